package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trakrf/platform-sub018/internal/groutine"
	"github.com/trakrf/platform-sub018/internal/transport"
)

func newStreamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream <address>",
		Short: "Decode live events from a reader",
		Long: `Connect to a CS108 over BLE, subscribe to its notification characteristic
and print every decoded event until Ctrl+C or until the reader disconnects.

The reader must already be running the operation (inventory, barcode scan);
cs108ctl only listens. Use --mode locate while the reader searches for a tag
so that tag reads are reported as proximity samples. With --mode-input the
mode can be switched while streaming by typing its name on stdin.`,
		Example: `  cs108ctl stream AA:BB:CC:DD:EE:FF
  cs108ctl stream AA:BB:CC:DD:EE:FF --mode locate --delivery latest --interval 250ms
  cs108ctl stream AA:BB:CC:DD:EE:FF -o json --nats-url nats://localhost:4222`,
		Args: cobra.MaximumNArgs(1),
		RunE: runStream,
	}
	addDecodeFlags(cmd)
	cmd.Flags().Duration("connect-timeout", 0, "Connection timeout")
	cmd.Flags().Bool("mode-input", false, "Read mode changes from stdin, one mode name per line")
	return cmd
}

func runStream(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Address = args[0]
	}
	if cmd.Flags().Changed("connect-timeout") {
		cfg.ConnectTimeout, _ = cmd.Flags().GetDuration("connect-timeout")
	}
	if err := applyDecodeFlags(cmd, cfg); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("reader address is required: pass it as an argument or set 'address' in the config")
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	session, err := newDecodeSession(cfg, cmd.OutOrStdout(), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if modeInput, _ := cmd.Flags().GetBool("mode-input"); modeInput {
		in := cmd.InOrStdin()
		groutine.Go(ctx, "cs108-mode-input", func(ctx context.Context) {
			session.watchModes(ctx, in)
		})
	}

	logger.WithField("address", cfg.Address).Info("Streaming from reader")
	started := time.Now()
	err = session.run(ctx, transport.NewBLESource(cfg.BLEOptions(), logger), false)
	logger.WithField("duration", time.Since(started).Truncate(time.Millisecond)).Info("Stream ended")

	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return err
}
