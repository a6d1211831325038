package sink

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/trakrf/platform-sub018/internal/cs108"
)

// Format selects how a Printer renders events.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON, "jsonl":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("invalid format '%s': must be one of [text json]", s)
	}
}

// PrinterOptions configures a Printer.
type PrinterOptions struct {
	Format Format
	// Color forces colored text on or off. Nil detects a terminal.
	Color *bool
	Clock func() time.Time
}

// Printer writes events to a terminal or file, one per line.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
	clock  func() time.Time
	logger *logrus.Logger
	enc    *json.Encoder
	colors map[cs108.Kind]*color.Color
	dim    *color.Color
}

func NewPrinter(w io.Writer, opts PrinterOptions, logger *logrus.Logger) *Printer {
	if w == nil {
		w = io.Discard
	}
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Format == "" {
		opts.Format = FormatText
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	useColor := isTerminal(w)
	if opts.Color != nil {
		useColor = *opts.Color
	}

	p := &Printer{
		w:      w,
		format: opts.Format,
		clock:  opts.Clock,
		logger: logger,
		enc:    json.NewEncoder(w),
		colors: map[cs108.Kind]*color.Color{
			cs108.KindInventory:       color.New(color.FgGreen),
			cs108.KindLocate:          color.New(color.FgGreen, color.Bold),
			cs108.KindBarcode:         color.New(color.FgCyan),
			cs108.KindBattery:         color.New(color.FgYellow),
			cs108.KindTrigger:         color.New(color.FgMagenta),
			cs108.KindCommandResponse: color.New(color.FgBlue),
			cs108.KindUnknown:         color.New(color.FgRed),
		},
		dim: color.New(color.Faint),
	}
	for _, c := range p.colors {
		setColor(c, useColor)
	}
	setColor(p.dim, useColor)
	return p
}

func setColor(c *color.Color, on bool) {
	if on {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *Printer) Write(events []cs108.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	for _, ev := range events {
		var err error
		if p.format == FormatJSON {
			err = p.enc.Encode(NewRecord(ev, now))
		} else {
			_, err = fmt.Fprintln(p.w, p.line(ev, now))
		}
		if err != nil {
			return fmt.Errorf("failed to print %s event: %w", ev.Kind(), err)
		}
	}
	return nil
}

func (p *Printer) line(ev cs108.Event, now time.Time) string {
	label := fmt.Sprintf("%-9s", ev.Kind())
	if c, ok := p.colors[ev.Kind()]; ok {
		label = c.Sprint(label)
	}
	return p.dim.Sprint(now.Format("15:04:05.000")) + " " + label + " " + Describe(ev)
}

// Describe renders the payload of an event as a short human-readable string.
func Describe(ev cs108.Event) string {
	switch e := ev.(type) {
	case cs108.InventoryTagRead:
		return fmt.Sprintf("%s rssi=%.1f ant=%d ch=%d", e.EPC, e.RSSI, e.Antenna, e.Channel)
	case cs108.LocateUpdate:
		return fmt.Sprintf("%s rssi=%.1f ant=%d", e.EPC, e.RSSI, e.Antenna)
	case cs108.BarcodeScan:
		if e.AIMPrefix != "" {
			return fmt.Sprintf("%s (%s)", e.Value, e.AIMPrefix)
		}
		return e.Value
	case cs108.BatteryStatus:
		return fmt.Sprintf("%d mV %d%%", e.Millivolts, e.Percent)
	case cs108.TriggerState:
		if e.Pressed {
			return "pressed"
		}
		return "released"
	case cs108.CommandResponse:
		return fmt.Sprintf("module=%s code=0x%04X status=0x%02X", e.Module, e.EventCode, e.Status)
	case cs108.Unknown:
		return fmt.Sprintf("code=0x%04X payload=%s", e.RawEventCode, hex.EncodeToString(e.RawPayload))
	default:
		return fmt.Sprintf("code=0x%04X", ev.Code())
	}
}

// Close does not close the underlying writer.
func (p *Printer) Close() error {
	return nil
}
