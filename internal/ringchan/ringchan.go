// Package ringchan provides a bounded channel whose writers never block.
package ringchan

import (
	"context"
	"sync/atomic"
)

// RingChannel wraps a buffered channel. Writers choose what happens when the
// buffer is full: TrySend refuses the new value, ForceSend evicts the oldest
// buffered value. Readers use C like any receive-only channel.
//
//	rc := ringchan.New[[]byte](64)
//	if !rc.TrySend(chunk) {
//	    // counted in Metrics().Rejected
//	}
//	for chunk := range rc.C() {
//	    ...
//	}
type RingChannel[T any] struct {
	ch      chan T
	metrics Metrics
}

// New creates a RingChannel holding at most capacity values.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. Reads through C are not counted as Processed.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// TrySend enqueues v if there is room and reports whether it did.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		atomic.AddInt64(&rc.metrics.Written, 1)
		return true
	default:
		atomic.AddInt64(&rc.metrics.Rejected, 1)
		return false
	}
}

// ForceSend enqueues v, evicting the oldest value when full. It reports
// whether a value was evicted. With several concurrent writers on a full
// channel the final send may wait for a reader.
func (rc *RingChannel[T]) ForceSend(v T) bool {
	select {
	case rc.ch <- v:
		atomic.AddInt64(&rc.metrics.Written, 1)
		return false
	default:
	}

	evicted := false
	select {
	case <-rc.ch:
		atomic.AddInt64(&rc.metrics.Overwritten, 1)
		evicted = true
	default:
	}
	rc.ch <- v
	atomic.AddInt64(&rc.metrics.Written, 1)
	return evicted
}

// Send blocks until v is enqueued or ctx is done.
func (rc *RingChannel[T]) Send(ctx context.Context, v T) error {
	select {
	case rc.ch <- v:
		atomic.AddInt64(&rc.metrics.Written, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks for the next value. ok is false once the channel is closed
// and drained.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.ch
	if ok {
		atomic.AddInt64(&rc.metrics.Processed, 1)
	}
	return v, ok
}

// TryReceive returns the next value without blocking.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			atomic.AddInt64(&rc.metrics.Processed, 1)
		}
		return v, ok
	default:
		return v, false
	}
}

func (rc *RingChannel[T]) Len() int { return len(rc.ch) }
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Close closes the channel. Sending afterwards panics.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}

// Metrics returns a snapshot of the counters.
func (rc *RingChannel[T]) Metrics() Metrics {
	return Metrics{
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Rejected:    atomic.LoadInt64(&rc.metrics.Rejected),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
		Processed:   atomic.LoadInt64(&rc.metrics.Processed),
	}
}

// Metrics counts channel traffic. Fields are updated atomically.
type Metrics struct {
	Written     int64
	Rejected    int64
	Overwritten int64
	Processed   int64
}
