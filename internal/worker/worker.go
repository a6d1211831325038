// Package worker runs the decode pipeline on a dedicated goroutine, off the
// transport's notification callback, and hands decoded events to an Emitter.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trakrf/platform-sub018/internal/cs108"
	"github.com/trakrf/platform-sub018/internal/groutine"
	"github.com/trakrf/platform-sub018/internal/ringchan"
)

var ErrClosed = errors.New("worker closed")

const (
	DefaultQueueSize      = 256
	DefaultExpireInterval = 250 * time.Millisecond

	controlQueueSize = 8
)

// Options configures a Worker. Zero values select the defaults.
type Options struct {
	QueueSize      int
	ExpireInterval time.Duration
	Pipeline       cs108.PipelineOptions
	Clock          func() time.Time
}

// Metrics is a point-in-time view of worker, pipeline and emitter counters.
type Metrics struct {
	ChunksIn      int64
	ChunksDropped int64
	Events        int64
	Pipeline      cs108.PipelineStats
	Emitter       EmitterMetrics
}

// Worker owns one Pipeline. Transport callbacks call Submit; only the Run
// goroutine touches the pipeline.
type Worker struct {
	pipeline    *cs108.Pipeline
	inbox       *ringchan.RingChannel[[]byte]
	control     *ringchan.RingChannel[cs108.Mode]
	emitter     *Emitter
	logger      *logrus.Logger
	clock       func() time.Time
	expireEvery time.Duration

	mu     sync.RWMutex
	closed bool

	mode     atomic.Int32
	events   atomic.Int64
	snapMu   sync.Mutex
	snapshot cs108.PipelineStats
}

// New creates a worker that feeds emitter.
func New(opts Options, emitter *Emitter, logger *logrus.Logger) *Worker {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.ExpireInterval <= 0 {
		opts.ExpireInterval = DefaultExpireInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	w := &Worker{
		pipeline:    cs108.NewPipeline(opts.Pipeline, logger),
		inbox:       ringchan.New[[]byte](opts.QueueSize),
		control:     ringchan.New[cs108.Mode](controlQueueSize),
		emitter:     emitter,
		logger:      logger,
		clock:       opts.Clock,
		expireEvery: opts.ExpireInterval,
	}
	w.mode.Store(int32(opts.Pipeline.Mode))
	return w
}

// Submit copies chunk onto the inbound queue. It never blocks; when the
// queue is full or the worker is closed the chunk is dropped and false is
// returned. Its signature matches a transport data callback.
func (w *Worker) Submit(chunk []byte) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}

	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	if !w.inbox.TrySend(buf) {
		w.logger.WithField("bytes", len(chunk)).Warn("Inbound queue full, dropping chunk")
		return false
	}
	return true
}

// SubmitWait is Submit with backpressure: it blocks while the queue is full.
// Use it for sources that can be paused, such as capture replay.
func (w *Worker) SubmitWait(ctx context.Context, chunk []byte) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}

	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	return w.inbox.Send(ctx, buf)
}

// SetMode asks the worker goroutine to switch the pipeline mode. It takes
// effect between chunks; when several requests are pending the newest wins.
// Safe to call from any goroutine; cs108ctl stream --mode-input drives it
// from stdin.
func (w *Worker) SetMode(m cs108.Mode) {
	w.control.ForceSend(m)
}

// Mode reports the mode the pipeline is currently running in.
func (w *Worker) Mode() cs108.Mode {
	return cs108.Mode(w.mode.Load())
}

// Close stops accepting chunks. Run returns after the queued chunks are
// decoded and their events delivered.
func (w *Worker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.inbox.Close()
}

// Run processes queued chunks until Close is called or ctx is done. The
// emitter runs alongside and is flushed before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	emitCtx, stopEmitter := context.WithCancel(context.WithoutCancel(ctx))
	emitterDone := groutine.Go(emitCtx, "cs108-emitter", w.emitter.Run)
	defer func() {
		stopEmitter()
		<-emitterDone
	}()

	ticker := time.NewTicker(w.expireEvery)
	defer ticker.Stop()

	w.logger.WithField("mode", w.Mode()).Info("Decode worker started")
	defer w.logger.Info("Decode worker stopped")

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case m := <-w.control.C():
			w.applyMode(m)
		case chunk, ok := <-w.inbox.C():
			if !ok {
				return nil
			}
			w.process(chunk)
		case <-ticker.C:
			w.pipeline.Expire(w.clock())
			w.publishStats()
		}
	}
}

func (w *Worker) applyMode(m cs108.Mode) {
	if m == w.pipeline.Mode() {
		return
	}
	w.pipeline.SetMode(m)
	w.mode.Store(int32(m))
	w.logger.WithField("mode", m).Info("Reader mode changed")
}

func (w *Worker) process(chunk []byte) {
	events := w.pipeline.Process(chunk, w.clock())
	if len(events) > 0 {
		w.events.Add(int64(len(events)))
		w.emitter.Emit(events)
	}
	w.publishStats()
}

// drain decodes whatever is still queued without blocking.
func (w *Worker) drain() {
	for {
		chunk, ok := w.inbox.TryReceive()
		if !ok {
			return
		}
		w.process(chunk)
	}
}

func (w *Worker) publishStats() {
	stats := w.pipeline.Stats()
	w.snapMu.Lock()
	w.snapshot = stats
	w.snapMu.Unlock()
}

// Metrics returns a snapshot of the counters.
func (w *Worker) Metrics() Metrics {
	in := w.inbox.Metrics()
	w.snapMu.Lock()
	pipeline := w.snapshot
	w.snapMu.Unlock()

	return Metrics{
		ChunksIn:      in.Written,
		ChunksDropped: in.Rejected,
		Events:        w.events.Load(),
		Pipeline:      pipeline,
		Emitter:       w.emitter.Metrics(),
	}
}
