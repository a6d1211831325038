package worker

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/trakrf/platform-sub018/internal/cs108"
)

// DeliveryMode controls how often the consumer callback runs. It never
// affects parsing: every event is decoded regardless of mode.
type DeliveryMode int

const (
	// DeliverEvery invokes the handler once per event as soon as possible.
	DeliverEvery DeliveryMode = iota
	// DeliverBatched invokes the handler once per interval with every event
	// decoded since the previous call.
	DeliverBatched
	// DeliverLatest invokes the handler once per interval with the newest
	// status event of each kind and the newest read of each tag. Barcode
	// scans and command responses are delivered in full.
	DeliverLatest
)

const (
	DefaultDeliveryInterval = 100 * time.Millisecond
	DefaultEventRingSize    = 1024

	// MaxEventRingSize guards against accidental misconfiguration.
	MaxEventRingSize uint32 = 1 << 20
)

func (m DeliveryMode) String() string {
	switch m {
	case DeliverEvery:
		return "every"
	case DeliverBatched:
		return "batched"
	case DeliverLatest:
		return "latest"
	default:
		return fmt.Sprintf("delivery(%d)", int(m))
	}
}

// ParseDeliveryMode converts a flag or config value to a DeliveryMode.
func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "every", "everyupdate":
		return DeliverEvery, nil
	case "batched", "batch":
		return DeliverBatched, nil
	case "latest", "aggregated":
		return DeliverLatest, nil
	default:
		return 0, fmt.Errorf("invalid delivery mode %q: use every, batched, or latest", s)
	}
}

// Handler receives delivered events. In DeliverEvery mode each call carries
// exactly one event.
type Handler func(events []cs108.Event)

// EmitterMetrics counts emitter traffic. Fields are updated atomically.
type EmitterMetrics struct {
	Enqueued    int64
	Overwritten int64
	Delivered   int64
	Errors      int64
}

// Emitter buffers decoded events in an overwrite-oldest ring and hands them
// to a Handler according to its DeliveryMode. Emit and Run may be called from
// different goroutines.
type Emitter struct {
	ring     mpmc.RichOverlappedRingBuffer[cs108.Event]
	mode     DeliveryMode
	interval time.Duration
	handler  Handler
	logger   *logrus.Logger
	wake     chan struct{}
	metrics  EmitterMetrics
}

// NewEmitter creates an emitter. interval <= 0 selects DefaultDeliveryInterval;
// it is ignored in DeliverEvery mode.
func NewEmitter(mode DeliveryMode, interval time.Duration, size uint32, handler Handler, logger *logrus.Logger) (*Emitter, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if size == 0 {
		return nil, fmt.Errorf("event ring size must be > 0")
	}
	if size > MaxEventRingSize {
		return nil, fmt.Errorf("event ring size %d exceeds maximum %d", size, MaxEventRingSize)
	}
	if interval <= 0 {
		interval = DefaultDeliveryInterval
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Emitter{
		ring:     mpmc.NewOverlappedRingBuffer[cs108.Event](size),
		mode:     mode,
		interval: interval,
		handler:  handler,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}, nil
}

// Emit queues events for delivery. When the ring is full the oldest queued
// events are overwritten.
func (e *Emitter) Emit(events []cs108.Event) {
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		overwrites, err := e.ring.EnqueueM(ev)
		if err != nil {
			atomic.AddInt64(&e.metrics.Errors, 1)
			e.logger.WithError(err).Error("Event ring rejected event")
			continue
		}
		atomic.AddInt64(&e.metrics.Enqueued, 1)
		if overwrites > 0 {
			atomic.AddInt64(&e.metrics.Overwritten, int64(overwrites))
			e.logger.WithField("overwritten", overwrites).Warn("Consumer too slow, oldest events dropped")
		}
	}

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run delivers events until ctx is done, then flushes what is still queued.
func (e *Emitter) Run(ctx context.Context) {
	e.logger.WithFields(logrus.Fields{
		"mode":     e.mode,
		"interval": e.interval,
	}).Debug("Emitter started")
	defer e.logger.Debug("Emitter stopped")

	var tick <-chan time.Time
	if e.mode != DeliverEvery {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			e.flush()
			return
		case <-e.wake:
			if e.mode == DeliverEvery {
				e.flush()
			}
		case <-tick:
			e.flush()
		}
	}
}

func (e *Emitter) flush() {
	switch e.mode {
	case DeliverBatched:
		if batch := e.drain(); len(batch) > 0 {
			e.deliver(batch)
		}
	case DeliverLatest:
		if latest := latestPerSource(e.drain()); len(latest) > 0 {
			e.deliver(latest)
		}
	default:
		for _, ev := range e.drain() {
			e.deliver([]cs108.Event{ev})
		}
	}
}

func (e *Emitter) drain() []cs108.Event {
	var out []cs108.Event
	for !e.ring.IsEmpty() {
		ev, err := e.ring.Dequeue()
		if err != nil {
			break
		}
		out = append(out, ev)
	}
	return out
}

// sourceKey identifies what a coalesced event reports on: the reader itself
// for status kinds, or one tag for inventory and locate reads.
type sourceKey struct {
	kind cs108.Kind
	epc  string
}

// latestPerSource keeps the newest status event of each kind and the newest
// read of each tag, in order of first appearance. Barcode scans, command
// responses and unknown events are never coalesced and pass through in order.
func latestPerSource(events []cs108.Event) []cs108.Event {
	if len(events) == 0 {
		return nil
	}
	index := make(map[sourceKey]int)
	var out []cs108.Event
	for _, ev := range events {
		var key sourceKey
		switch e := ev.(type) {
		case cs108.BatteryStatus, cs108.TriggerState:
			key = sourceKey{kind: ev.Kind()}
		case cs108.InventoryTagRead:
			key = sourceKey{kind: ev.Kind(), epc: e.EPC}
		case cs108.LocateUpdate:
			key = sourceKey{kind: ev.Kind(), epc: e.EPC}
		default:
			out = append(out, ev)
			continue
		}
		if i, ok := index[key]; ok {
			out[i] = ev
			continue
		}
		index[key] = len(out)
		out = append(out, ev)
	}
	return out
}

func (e *Emitter) deliver(events []cs108.Event) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&e.metrics.Errors, 1)
			e.logger.WithField("panic", r).Error("Event handler panicked")
		}
	}()
	e.handler(events)
	atomic.AddInt64(&e.metrics.Delivered, int64(len(events)))
}

func (e *Emitter) Mode() DeliveryMode { return e.mode }

// Metrics returns a snapshot of the counters.
func (e *Emitter) Metrics() EmitterMetrics {
	return EmitterMetrics{
		Enqueued:    atomic.LoadInt64(&e.metrics.Enqueued),
		Overwritten: atomic.LoadInt64(&e.metrics.Overwritten),
		Delivered:   atomic.LoadInt64(&e.metrics.Delivered),
		Errors:      atomic.LoadInt64(&e.metrics.Errors),
	}
}
