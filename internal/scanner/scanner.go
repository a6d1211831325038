// Package scanner discovers CS108 readers over BLE.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/trakrf/platform-sub018/internal/ringchan"
	"github.com/trakrf/platform-sub018/internal/transport"
)

// DefaultNamePrefix is the local name CS108 readers advertise with.
const DefaultNamePrefix = "CS108"

// ScanningDevice is the part of ble.Device the scanner needs.
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
}

// DeviceFactory creates the scanning device. Tests replace it.
var DeviceFactory = func() (ScanningDevice, error) {
	dev, err := transport.DeviceFactory()
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// ProgressCallback is called when the scan phase changes.
type ProgressCallback func(phase string)

// EventType marks a reader as newly discovered or updated.
type EventType int

const (
	EventNew EventType = iota
	EventUpdated
)

// ReaderInfo is what the scanner knows about one reader.
type ReaderInfo struct {
	Address     string    `json:"address"`
	Name        string    `json:"name"`
	RSSI        int       `json:"rssi"`
	Connectable bool      `json:"connectable"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Sightings   int       `json:"sightings"`
}

type Event struct {
	Type   EventType
	Reader ReaderInfo
}

// ScanOptions configures a scan.
type ScanOptions struct {
	Duration        time.Duration
	AllowDuplicates bool
	// NamePrefix matches readers by local name when they do not advertise
	// the reader service.
	NamePrefix string
	// AnyDevice disables reader filtering.
	AnyDevice bool
	AllowList []string
	BlockList []string
}

func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		AllowDuplicates: true,
		NamePrefix:      DefaultNamePrefix,
	}
}

// Scanner collects reader advertisements.
type Scanner struct {
	readers *hashmap.Map[string, ReaderInfo]
	events  *ringchan.RingChannel[Event]
	logger  *logrus.Logger
	opts    *ScanOptions
	clock   func() time.Time
}

func NewScanner(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		readers: hashmap.New[string, ReaderInfo](),
		events:  ringchan.New[Event](100),
		logger:  logger,
		clock:   time.Now,
	}
}

// Scan listens for advertisements for opts.Duration (or until ctx is done)
// and returns the readers found, strongest signal first.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progress ProgressCallback) ([]ReaderInfo, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progress == nil {
		progress = func(string) {}
	}
	s.readers = hashmap.New[string, ReaderInfo]()
	s.opts = opts

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", transport.NormalizeError(err))
	}

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithField("duration", opts.Duration).Info("Scanning for readers...")
	progress("Scanning")

	err = dev.Scan(ctx, opts.AllowDuplicates, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", transport.NormalizeError(err))
	}

	progress("Processing results")
	readers := s.Readers()
	s.logger.WithField("reader_count", len(readers)).Info("Scan completed")
	return readers, nil
}

func (s *Scanner) handleAdvertisement(adv ble.Advertisement) {
	addr := adv.Addr().String()
	now := s.clock()

	info, existing := s.readers.Get(addr)
	if !existing {
		if !s.include(adv) {
			return
		}
		info = ReaderInfo{Address: addr, FirstSeen: now}
	}

	if name := adv.LocalName(); name != "" {
		info.Name = name
	}
	info.RSSI = adv.RSSI()
	info.Connectable = adv.Connectable()
	info.LastSeen = now
	info.Sightings++
	s.readers.Set(addr, info)

	event := Event{Type: EventUpdated, Reader: info}
	if !existing {
		event.Type = EventNew
		s.logger.WithFields(logrus.Fields{
			"name":    info.Name,
			"address": addr,
			"rssi":    info.RSSI,
		}).Info("Discovered reader")
	}
	s.events.ForceSend(event)
}

func (s *Scanner) include(adv ble.Advertisement) bool {
	opts := s.opts
	if opts == nil {
		opts = DefaultScanOptions()
	}
	addr := adv.Addr().String()

	if slices.ContainsFunc(opts.BlockList, func(a string) bool { return strings.EqualFold(a, addr) }) {
		return false
	}
	if len(opts.AllowList) > 0 &&
		!slices.ContainsFunc(opts.AllowList, func(a string) bool { return strings.EqualFold(a, addr) }) {
		return false
	}
	if opts.AnyDevice {
		return true
	}
	return IsReader(adv, opts.NamePrefix)
}

// IsReader reports whether adv looks like a CS108: it advertises the reader
// service or its local name starts with namePrefix.
func IsReader(adv ble.Advertisement, namePrefix string) bool {
	for _, u := range adv.Services() {
		if u.Equal(transport.ReaderServiceUUID) {
			return true
		}
	}
	if namePrefix == "" {
		return false
	}
	return strings.HasPrefix(strings.ToUpper(adv.LocalName()), strings.ToUpper(namePrefix))
}

// Readers returns a snapshot of discovered readers, strongest signal first.
func (s *Scanner) Readers() []ReaderInfo {
	out := make([]ReaderInfo, 0, s.readers.Len())
	s.readers.Range(func(_ string, info ReaderInfo) bool {
		out = append(out, info)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Events returns discovery events. Old events are dropped when nobody reads.
func (s *Scanner) Events() <-chan Event {
	return s.events.C()
}
