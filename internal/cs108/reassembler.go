package cs108

import (
	"bytes"
	"errors"

	"github.com/sirupsen/logrus"
)

// DefaultOverflowFactor bounds the marker-less backlog to this many maximum-size frames.
const DefaultOverflowFactor = 4

// ReassemblerStats counts what happened to the bytes fed into a Reassembler.
type ReassemblerStats struct {
	Frames          uint64
	ChecksumRejects uint64
	LengthRejects   uint64
	Overflows       uint64
	DiscardedBytes  uint64
}

// Reassembler turns arbitrarily chunked stream bytes into validated frames.
// It is not safe for concurrent use; one goroutine owns it for the life of a
// connection.
type Reassembler struct {
	layout        Layout
	buf           []byte
	overflowLimit int
	stats         ReassemblerStats
	logger        *logrus.Logger
}

// NewReassembler creates a reassembler for layout. overflowFactor <= 0 selects
// DefaultOverflowFactor.
func NewReassembler(layout Layout, overflowFactor int, logger *logrus.Logger) *Reassembler {
	if overflowFactor <= 0 {
		overflowFactor = DefaultOverflowFactor
	}
	if logger == nil {
		logger = logrus.New()
	}
	limit := overflowFactor * layout.MaxFrameSize()
	return &Reassembler{
		layout:        layout,
		buf:           make([]byte, 0, limit),
		overflowLimit: limit,
		logger:        logger,
	}
}

// ProcessIncomingData appends chunk to the staging buffer and returns every
// frame completed by it, in stream order. Partial frames stay buffered for the
// next call. Malformed input is skipped, never reported. A spurious marker
// with a plausible length holds back the frames behind it until enough bytes
// arrive to reject it, at most one maximum frame size later.
func (r *Reassembler) ProcessIncomingData(chunk []byte) []Frame {
	r.buf = append(r.buf, chunk...)

	var frames []Frame
	markerLen := len(r.layout.Marker)
	pos := 0

	for {
		idx := bytes.Index(r.buf[pos:], r.layout.Marker)
		if idx < 0 {
			if len(r.buf)-pos > r.overflowLimit {
				tail := len(r.buf) - markerLen
				r.stats.Overflows++
				r.stats.DiscardedBytes += uint64(tail - pos)
				r.logger.WithFields(logrus.Fields{
					"discarded": tail - pos,
					"limit":     r.overflowLimit,
				}).Warn("No sync marker within bound, dropping noise")
				pos = tail
			}
			break
		}

		start := pos + idx
		r.stats.DiscardedBytes += uint64(idx)
		pos = start

		avail := len(r.buf) - start
		if avail <= r.layout.LengthOffset {
			break
		}

		declared := int(r.buf[start+r.layout.LengthOffset])
		if declared > r.layout.MaxPayload {
			r.reject(start, &FrameError{Kind: LengthMismatch, Declared: declared, Actual: r.layout.MaxPayload})
			pos = start + 1
			continue
		}

		total := r.layout.HeaderSize + declared
		if avail < total {
			break
		}

		frame, err := r.layout.Validate(r.buf[start : start+total])
		if err != nil {
			r.reject(start, err)
			pos = start + 1
			continue
		}

		r.stats.Frames++
		frames = append(frames, frame)
		pos = start + total
	}

	r.compact(pos)
	return frames
}

func (r *Reassembler) reject(offset int, err error) {
	switch {
	case errors.Is(err, ErrChecksumMismatch):
		r.stats.ChecksumRejects++
	default:
		r.stats.LengthRejects++
	}
	r.stats.DiscardedBytes++
	r.logger.WithFields(logrus.Fields{
		"offset": offset,
		"error":  err,
	}).Debug("Rejected candidate frame, resyncing one byte")
}

// compact drops everything before pos. The backing array is reallocated when
// a burst has grown it far past the overflow bound.
func (r *Reassembler) compact(pos int) {
	if pos == 0 {
		return
	}
	rest := len(r.buf) - pos
	if cap(r.buf) > 4*r.overflowLimit && rest <= r.overflowLimit {
		next := make([]byte, rest, r.overflowLimit)
		copy(next, r.buf[pos:])
		r.buf = next
		return
	}
	r.buf = append(r.buf[:0], r.buf[pos:]...)
}

// Buffered reports how many unconsumed bytes are staged.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Stats returns a snapshot of the counters.
func (r *Reassembler) Stats() ReassemblerStats {
	return r.stats
}

// Reset discards staged bytes, e.g. after the transport reconnects.
func (r *Reassembler) Reset() {
	r.stats.DiscardedBytes += uint64(len(r.buf))
	r.buf = r.buf[:0]
}
