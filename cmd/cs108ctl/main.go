package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cs108ctl",
		Short: "CS108 handheld reader stream decoder",
		Long: `Decode the notification stream of a CS108 handheld RFID/barcode reader:

- Discover nearby readers over BLE
- Stream live tag reads, barcodes, trigger and battery events
- Replay captured byte streams through the same decoder
- Encode frames for test fixtures and captures

Events print as text or JSON lines and can be forwarded to NATS
or mirrored into Redis as live tag presence.`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		// main() prints clean errors
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "YAML config file")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("verbose", false, "Shortcut for --log-level debug")

	root.AddCommand(newScanCmd())
	root.AddCommand(newStreamCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newEncodeCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
