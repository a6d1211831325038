package cs108

import (
	"time"

	"github.com/sirupsen/logrus"
)

// PipelineOptions configures a Pipeline. Zero values select the defaults.
type PipelineOptions struct {
	Layout            *Layout
	OverflowFactor    int
	BarcodeTimeout    time.Duration
	BarcodeMaxPending int
	Mode              Mode
	DecoderOptions    []DecoderOption
}

// PipelineStats aggregates counters from every stage.
type PipelineStats struct {
	Reassembler  ReassemblerStats
	Barcode      BarcodeStats
	Events       uint64
	DecodeErrors uint64
}

// Pipeline is the synchronous bytes-to-events transformation: reassembly,
// validation, decoding and barcode assembly. It performs no I/O and must be
// driven by a single goroutine.
type Pipeline struct {
	reassembler *Reassembler
	decoder     *Decoder
	barcodes    *BarcodeAssembler
	logger      *logrus.Logger

	events       uint64
	decodeErrors uint64
}

// NewPipeline builds a pipeline from opts.
func NewPipeline(opts PipelineOptions, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	layout := DefaultLayout()
	if opts.Layout != nil {
		layout = *opts.Layout
	}

	decoder := NewDecoder(opts.DecoderOptions...)
	decoder.SetMode(opts.Mode)

	return &Pipeline{
		reassembler: NewReassembler(layout, opts.OverflowFactor, logger),
		decoder:     decoder,
		barcodes:    NewBarcodeAssembler(opts.BarcodeTimeout, opts.BarcodeMaxPending),
		logger:      logger,
	}
}

// Process runs one transport chunk to completion and returns the events it
// completed, in stream order. Frames that fail to decode and discarded barcode
// assemblies are counted and logged, never returned.
func (p *Pipeline) Process(chunk []byte, now time.Time) []Event {
	p.Expire(now)

	frames := p.reassembler.ProcessIncomingData(chunk)
	if len(frames) == 0 {
		return nil
	}

	events := make([]Event, 0, len(frames))
	for _, f := range frames {
		ev, err := p.decoder.DecodeAt(f, now)
		if err != nil {
			p.decodeErrors++
			p.logger.WithFields(logrus.Fields{
				"event_code": f.EventCode,
				"module":     f.DeviceID,
				"error":      err,
			}).Debug("Dropping undecodable frame")
			continue
		}

		if frag, ok := ev.(BarcodeChunk); ok {
			scan, err := p.barcodes.Accept(frag, now)
			if err != nil {
				p.logger.WithError(err).Debug("Discarding barcode assembly")
				continue
			}
			if scan == nil {
				continue
			}
			ev = *scan
		}
		events = append(events, ev)
	}

	p.events += uint64(len(events))
	return events
}

// Expire evicts barcode assemblies whose timeout has passed.
func (p *Pipeline) Expire(now time.Time) int {
	n := p.barcodes.Expire(now)
	if n > 0 {
		p.logger.WithField("expired", n).Debug("Evicted stale barcode assemblies")
	}
	return n
}

// SetMode changes how inventory records are surfaced.
func (p *Pipeline) SetMode(m Mode) {
	p.decoder.SetMode(m)
}

func (p *Pipeline) Mode() Mode {
	return p.decoder.Mode()
}

// Decoder exposes the dispatch tables for registering extra event codes.
func (p *Pipeline) Decoder() *Decoder {
	return p.decoder
}

// Reset drops buffered bytes and pending barcode assemblies.
func (p *Pipeline) Reset() {
	p.reassembler.Reset()
	p.barcodes.Reset()
}

func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Reassembler:  p.reassembler.Stats(),
		Barcode:      p.barcodes.Stats(),
		Events:       p.events,
		DecodeErrors: p.decodeErrors,
	}
}
