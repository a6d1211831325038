package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trakrf/platform-sub018/internal/scanner"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Discover nearby CS108 readers",
		Long: `Scan for BLE advertisements and list the CS108 readers found, strongest
signal first. A device counts as a reader when it advertises the reader
service or its name starts with the reader prefix.`,
		Example: `  cs108ctl scan
  cs108ctl scan -d 30s -f json
  cs108ctl scan --any --block AA:BB:CC:DD:EE:FF`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}
	cmd.Flags().DurationP("duration", "d", 10*time.Second, "Scan duration (0 until Ctrl+C)")
	cmd.Flags().StringP("format", "f", "table", "Output format (table, json)")
	cmd.Flags().StringSlice("allow", nil, "Only show devices with these addresses")
	cmd.Flags().StringSlice("block", nil, "Hide devices with these addresses")
	cmd.Flags().String("prefix", scanner.DefaultNamePrefix, "Reader name prefix")
	cmd.Flags().Bool("any", false, "List every BLE device, not only readers")
	cmd.Flags().Bool("no-duplicates", false, "Ask the adapter to filter duplicate advertisements")
	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	opts := scanner.DefaultScanOptions()
	opts.Duration, _ = cmd.Flags().GetDuration("duration")
	opts.AllowList, _ = cmd.Flags().GetStringSlice("allow")
	opts.BlockList, _ = cmd.Flags().GetStringSlice("block")
	opts.NamePrefix, _ = cmd.Flags().GetString("prefix")
	opts.AnyDevice, _ = cmd.Flags().GetBool("any")
	noDup, _ := cmd.Flags().GetBool("no-duplicates")
	opts.AllowDuplicates = !noDup

	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := func(string) {}
	if f, ok := cmd.ErrOrStderr().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p := NewProgressPrinter(f, "Scanning for readers", "Scanning", opts.Duration, "Processing results")
		p.Start()
		defer p.Stop()
		progress = p.Callback()
	}

	readers, err := scanner.NewScanner(logger).Scan(ctx, opts, progress)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if format == "json" {
		return writeReadersJSON(cmd.OutOrStdout(), readers)
	}
	return writeReadersTable(cmd.OutOrStdout(), readers, time.Now())
}

func writeReadersJSON(w io.Writer, readers []scanner.ReaderInfo) error {
	if readers == nil {
		readers = []scanner.ReaderInfo{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(readers)
}

func writeReadersTable(out io.Writer, readers []scanner.ReaderInfo, now time.Time) error {
	if len(readers) == 0 {
		_, err := fmt.Fprintln(out, "No readers discovered")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSEEN\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 64))
	for _, r := range readers {
		name := r.Name
		if name == "" {
			name = "(unnamed)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		lastSeen := now.Sub(r.LastSeen).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%d\t%s ago\n", name, r.Address, r.RSSI, r.Sightings, lastSeen)
	}
	return w.Flush()
}
