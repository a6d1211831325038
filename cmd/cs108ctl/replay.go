package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trakrf/platform-sub018/internal/transport"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [file]",
		Short: "Decode a captured byte stream",
		Long: `Feed a capture of reader notifications through the decoder, fragmented
into MTU-sized chunks the way BLE delivers them.

The capture is raw bytes, or hex text with --hex (whitespace, commas and
colons separate bytes, 0x prefixes are allowed and '#' starts a comment).
Reads stdin when the file is '-' or omitted.`,
		Example: `  cs108ctl replay session.bin
  cs108ctl replay --hex --mtu 7 fixtures/barcode.hex
  cs108ctl encode --module notification --code 0xA000 --data 0ED6 | cs108ctl replay --hex`,
		Args: cobra.MaximumNArgs(1),
		RunE: runReplay,
	}
	addDecodeFlags(cmd)
	cmd.Flags().Bool("hex", false, "Capture is hex text")
	cmd.Flags().Int("mtu", 0, "Chunk size in bytes")
	cmd.Flags().Duration("pace", 0, "Delay between chunks")
	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("mtu") {
		cfg.ReplayMTU, _ = cmd.Flags().GetInt("mtu")
	}
	if cmd.Flags().Changed("pace") {
		cfg.ReplayPace, _ = cmd.Flags().GetDuration("pace")
	}
	if err := applyDecodeFlags(cmd, cfg); err != nil {
		return err
	}
	hex, _ := cmd.Flags().GetBool("hex")

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	name := "stdin"
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open capture: %w", err)
		}
		defer f.Close()
		in, name = f, args[0]
		if strings.HasSuffix(strings.ToLower(name), ".hex") && !cmd.Flags().Changed("hex") {
			hex = true
		}
	}

	cmd.SilenceUsage = true

	session, err := newDecodeSession(cfg, cmd.OutOrStdout(), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithField("capture", name).Info("Replaying capture")
	err = session.run(ctx, transport.NewReplaySource(in, cfg.ReplayOptions(hex), logger), true)
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return err
}
