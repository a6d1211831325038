package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
)

const (
	// DefaultReplayMTU matches the notification payload of a default 23-byte ATT MTU.
	DefaultReplayMTU = 20

	defaultReplayBuffer = 4096
)

// ReplayOptions configures a ReplaySource.
type ReplayOptions struct {
	// MTU is the largest chunk handed to onData.
	MTU int
	// Pace is the delay between chunks. Zero replays as fast as possible.
	Pace time.Duration
	// Hex treats the input as hex text instead of raw bytes.
	Hex bool
	// BufferSize is the staging ring capacity in bytes.
	BufferSize int
}

// ReplayStats counts what a ReplaySource delivered.
type ReplayStats struct {
	Chunks int64
	Bytes  int64
}

// ReplaySource re-delivers a captured byte stream fragmented into MTU-sized
// chunks, the way notifications arrive from a live reader.
type ReplaySource struct {
	r      io.Reader
	opts   ReplayOptions
	logger *logrus.Logger
	ring   *ringbuffer.RingBuffer

	chunks atomic.Int64
	bytes  atomic.Int64
}

func NewReplaySource(r io.Reader, opts ReplayOptions, logger *logrus.Logger) *ReplaySource {
	if opts.MTU <= 0 {
		opts.MTU = DefaultReplayMTU
	}
	if opts.BufferSize < opts.MTU {
		opts.BufferSize = max(defaultReplayBuffer, opts.MTU)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ReplaySource{
		r:      r,
		opts:   opts,
		logger: logger,
		ring:   ringbuffer.New(opts.BufferSize),
	}
}

// Stream replays the capture. It returns nil once every byte was delivered.
func (s *ReplaySource) Stream(ctx context.Context, onData DataFunc) error {
	src := s.r
	if s.opts.Hex {
		raw, err := ParseHex(s.r)
		if err != nil {
			return err
		}
		src = bytes.NewReader(raw)
	}

	s.logger.WithFields(logrus.Fields{
		"mtu":  s.opts.MTU,
		"pace": s.opts.Pace,
		"hex":  s.opts.Hex,
	}).Debug("Replaying capture")

	readBuf := make([]byte, s.opts.BufferSize)
	chunk := make([]byte, s.opts.MTU)
	eof := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if free := s.ring.Free(); !eof && free > 0 {
			n, err := src.Read(readBuf[:free])
			if n > 0 {
				if _, werr := s.ring.Write(readBuf[:n]); werr != nil && !errors.Is(werr, ringbuffer.ErrIsFull) {
					return fmt.Errorf("failed to stage capture bytes: %w", werr)
				}
			}
			switch {
			case errors.Is(err, io.EOF):
				eof = true
			case err != nil:
				return fmt.Errorf("failed to read capture: %w", err)
			}
		}

		if s.ring.Length() < s.opts.MTU && !eof {
			continue
		}

		n, err := s.ring.TryRead(chunk)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return fmt.Errorf("failed to read staged bytes: %w", err)
		}
		if n == 0 {
			if eof {
				s.logger.WithFields(logrus.Fields{
					"chunks": s.chunks.Load(),
					"bytes":  s.bytes.Load(),
				}).Debug("Capture replay finished")
				return nil
			}
			continue
		}

		onData(chunk[:n])
		s.chunks.Add(1)
		s.bytes.Add(int64(n))

		if err := s.pause(ctx); err != nil {
			return err
		}
	}
}

func (s *ReplaySource) pause(ctx context.Context) error {
	if s.opts.Pace <= 0 {
		return nil
	}
	timer := time.NewTimer(s.opts.Pace)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *ReplaySource) Stats() ReplayStats {
	return ReplayStats{Chunks: s.chunks.Load(), Bytes: s.bytes.Load()}
}

// ParseHex reads a hex capture. Bytes may be separated by whitespace, commas
// or colons, may carry a 0x prefix, and '#' starts a comment that runs to the
// end of the line.
func ParseHex(r io.Reader) ([]byte, error) {
	var out []byte
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ',' || r == ':' || r == '\r'
		})
		for _, f := range fields {
			f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
			b, err := hex.DecodeString(f)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %q: %v", ErrInvalidCapture, line, f, err)
			}
			out = append(out, b...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read capture: %w", err)
	}
	return out, nil
}
