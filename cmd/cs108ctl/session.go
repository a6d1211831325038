package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/trakrf/platform-sub018/internal/config"
	"github.com/trakrf/platform-sub018/internal/cs108"
	"github.com/trakrf/platform-sub018/internal/groutine"
	"github.com/trakrf/platform-sub018/internal/sink"
	"github.com/trakrf/platform-sub018/internal/transport"
	"github.com/trakrf/platform-sub018/internal/worker"
)

func addDecodeFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "", "Output format (text, json)")
	cmd.Flags().String("mode", "", "Reader mode (idle, inventory, locate, barcode)")
	cmd.Flags().String("delivery", "", "Event delivery (every, batched, latest)")
	cmd.Flags().Duration("interval", 0, "Delivery interval for batched and latest delivery")
	cmd.Flags().Int("queue-size", 0, "Inbound chunk queue size")
	cmd.Flags().String("nats-url", "", "Also publish events to this NATS server")
	cmd.Flags().String("nats-subject", "", "NATS subject prefix")
	cmd.Flags().String("redis-addr", "", "Also keep tag presence in this Redis server (host:port)")
}

// applyDecodeFlags overrides cfg with the decode flags the user set.
func applyDecodeFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Output, _ = flags.GetString("output")
	}
	if flags.Changed("mode") {
		cfg.Mode, _ = flags.GetString("mode")
	}
	if flags.Changed("delivery") {
		cfg.DeliveryMode, _ = flags.GetString("delivery")
	}
	if flags.Changed("interval") {
		cfg.DeliveryInterval, _ = flags.GetDuration("interval")
	}
	if flags.Changed("queue-size") {
		cfg.QueueSize, _ = flags.GetInt("queue-size")
	}
	if flags.Changed("nats-url") {
		cfg.NATSURL, _ = flags.GetString("nats-url")
	}
	if flags.Changed("nats-subject") {
		cfg.NATSSubject, _ = flags.GetString("nats-subject")
	}
	if flags.Changed("redis-addr") {
		cfg.RedisAddr, _ = flags.GetString("redis-addr")
	}
	return cfg.Validate()
}

// decodeSession wires a transport source through the worker into the sinks.
type decodeSession struct {
	logger *logrus.Logger
	sinks  sink.Multi
	worker *worker.Worker
}

func newDecodeSession(cfg *config.Config, out io.Writer, logger *logrus.Logger) (*decodeSession, error) {
	format, err := sink.ParseFormat(cfg.Output)
	if err != nil {
		return nil, err
	}
	sinks := sink.Multi{sink.NewPrinter(out, sink.PrinterOptions{Format: format}, logger)}
	if cfg.NATSURL != "" {
		pub, err := sink.DialNATS(cfg.NATSOptions(), logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, pub)
	}
	if cfg.RedisAddr != "" {
		presence, err := sink.DialRedis(cfg.RedisOptions(), logger)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, presence)
	}

	handler := func(events []cs108.Event) {
		if err := sinks.Write(events); err != nil {
			logger.WithError(err).Warn("Failed to deliver events")
		}
	}
	emitter, err := worker.NewEmitter(cfg.Delivery(), cfg.DeliveryInterval, cfg.EventRingSize, handler, logger)
	if err != nil {
		_ = sinks.Close()
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	return &decodeSession{
		logger: logger,
		sinks:  sinks,
		worker: worker.New(cfg.WorkerOptions(), emitter, logger),
	}, nil
}

// run streams src until it ends or ctx is done, then waits for every queued
// event to be delivered. With lossless set, the source is slowed down instead
// of dropping chunks when the worker falls behind.
func (s *decodeSession) run(ctx context.Context, src transport.Source, lossless bool) error {
	var runErr error
	workerDone := groutine.Go(ctx, "cs108-worker", func(ctx context.Context) {
		runErr = s.worker.Run(ctx)
	})

	onData := func(chunk []byte) { s.worker.Submit(chunk) }
	if lossless {
		onData = func(chunk []byte) {
			if err := s.worker.SubmitWait(ctx, chunk); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.WithError(err).Debug("Chunk not queued")
			}
		}
	}

	streamErr := src.Stream(ctx, onData)
	s.worker.Close()
	<-workerDone

	closeErr := s.sinks.Close()
	s.logMetrics()

	switch {
	case streamErr != nil:
		return streamErr
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		return runErr
	default:
		return closeErr
	}
}

// watchModes reads mode names from r, one per line, and switches the worker
// to each in turn. Blank lines and lines starting with '#' are skipped. It
// returns the number of accepted changes once r is exhausted or ctx is done.
func (s *decodeSession) watchModes(ctx context.Context, r io.Reader) int {
	accepted := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		mode, err := cs108.ParseMode(line)
		if err != nil {
			s.logger.WithError(err).Warn("Ignoring mode input")
			continue
		}
		s.worker.SetMode(mode)
		accepted++
	}
	if err := sc.Err(); err != nil {
		s.logger.WithError(err).Debug("Mode input closed")
	}
	return accepted
}

func (s *decodeSession) logMetrics() {
	m := s.worker.Metrics()
	s.logger.WithFields(logrus.Fields{
		"chunks":          m.ChunksIn,
		"chunks_dropped":  m.ChunksDropped,
		"frames":          m.Pipeline.Reassembler.Frames,
		"bytes_discarded": m.Pipeline.Reassembler.DiscardedBytes,
		"crc_rejects":     m.Pipeline.Reassembler.ChecksumRejects,
		"decode_errors":   m.Pipeline.DecodeErrors,
		"barcodes_failed": m.Pipeline.Barcode.Failed + m.Pipeline.Barcode.Expired,
		"events":          m.Events,
		"delivered":       m.Emitter.Delivered,
		"overwritten":     m.Emitter.Overwritten,
	}).Info("Decode summary")
}
