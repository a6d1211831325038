// Package sink delivers decoded reader events to their consumers.
package sink

import (
	"errors"
	"time"

	"github.com/trakrf/platform-sub018/internal/cs108"
)

// Sink consumes batches of events from the worker's emitter.
type Sink interface {
	Write(events []cs108.Event) error
	Close() error
}

// Record is the JSON envelope written for every event.
type Record struct {
	Kind       string      `json:"kind"`
	Code       uint16      `json:"code"`
	ReceivedAt time.Time   `json:"received_at"`
	Event      cs108.Event `json:"event"`
}

func NewRecord(ev cs108.Event, now time.Time) Record {
	return Record{
		Kind:       ev.Kind().String(),
		Code:       ev.Code(),
		ReceivedAt: now.UTC(),
		Event:      ev,
	}
}

// Multi fans events out to several sinks. A failing sink does not stop the
// others; their errors are joined.
type Multi []Sink

func (m Multi) Write(events []cs108.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
