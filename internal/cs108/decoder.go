package cs108

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"
)

// Event codes carried in the first two payload bytes.
const (
	EventRFIDPowerOn       uint16 = 0x8000
	EventRFIDPowerOff      uint16 = 0x8001
	EventRFIDData          uint16 = 0x8002
	EventBarcodePowerOn    uint16 = 0x9000
	EventBarcodePowerOff   uint16 = 0x9001
	EventBarcodeData       uint16 = 0x9100
	EventBatteryVoltage    uint16 = 0xA000
	EventTriggerState      uint16 = 0xA001
	EventBatteryReportOn   uint16 = 0xA002
	EventBatteryReportOff  uint16 = 0xA003
	EventTriggerReportOn   uint16 = 0xA008
	EventTriggerReportOff  uint16 = 0xA009
	EventErrorNotification uint16 = 0xA101
	EventTriggerPushed     uint16 = 0xA102
	EventTriggerReleased   uint16 = 0xA103
	EventSiliconLabVersion uint16 = 0xB000
	EventBluetoothVersion  uint16 = 0xC000
)

// RFID module packet types found inside EventRFIDData frames.
const (
	RFIDPacketInventory uint16 = 0x0005

	rfidHeaderSize    = 8
	inventoryBodySize = 12
)

// Mode is the reader operating mode. It changes how inventory records are
// surfaced: in ModeLocate they become LocateUpdate samples.
type Mode int

const (
	ModeIdle Mode = iota
	ModeInventory
	ModeLocate
	ModeBarcode
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeInventory:
		return "inventory"
	case ModeLocate:
		return "locate"
	case ModeBarcode:
		return "barcode"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a CLI/config mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "idle":
		return ModeIdle, nil
	case "inventory", "inv":
		return ModeInventory, nil
	case "locate", "search":
		return ModeLocate, nil
	case "barcode":
		return ModeBarcode, nil
	default:
		return 0, fmt.Errorf("invalid mode %q: use idle, inventory, locate, or barcode", s)
	}
}

// DecodeContext is the decoder state visible to a DecodeFunc.
type DecodeContext struct {
	Mode Mode
	Now  time.Time
}

// DecodeFunc turns one validated frame into an event.
type DecodeFunc func(ctx DecodeContext, f Frame) (Event, error)

// RFIDPacket is the RFID module packet wrapped by an EventRFIDData frame.
type RFIDPacket struct {
	Version byte
	Flags   byte
	Type    uint16
	Body    []byte
}

// RFIDPacketFunc decodes one RFID module packet type.
type RFIDPacketFunc func(ctx DecodeContext, pkt RFIDPacket) (Event, error)

// Decoder maps frames to events through lookup tables keyed by event code and,
// for RFID module data, by packet type. Codes without an entry decode to
// Unknown.
type Decoder struct {
	handlers map[uint16]DecodeFunc
	rfid     map[uint16]RFIDPacketFunc
	mode     Mode
	clock    func() time.Time
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithClock sets the time source used for event timestamps.
func WithClock(clock func() time.Time) DecoderOption {
	return func(d *Decoder) {
		d.clock = clock
	}
}

// NewDecoder creates a decoder with the default CS108 tables.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		handlers: map[uint16]DecodeFunc{
			EventBatteryVoltage:    decodeBattery,
			EventTriggerState:      decodeTriggerState,
			EventTriggerPushed:     decodeTriggerEdge(true),
			EventTriggerReleased:   decodeTriggerEdge(false),
			EventErrorNotification: decodeCommandResponse,
			EventRFIDPowerOn:       decodeCommandResponse,
			EventRFIDPowerOff:      decodeCommandResponse,
			EventBarcodePowerOn:    decodeCommandResponse,
			EventBarcodePowerOff:   decodeCommandResponse,
			EventBatteryReportOn:   decodeCommandResponse,
			EventBatteryReportOff:  decodeCommandResponse,
			EventTriggerReportOn:   decodeCommandResponse,
			EventTriggerReportOff:  decodeCommandResponse,
			EventSiliconLabVersion: decodeCommandResponse,
			EventBluetoothVersion:  decodeCommandResponse,
			EventBarcodeData:       decodeBarcodeChunk,
		},
		rfid: map[uint16]RFIDPacketFunc{
			RFIDPacketInventory: decodeInventoryRecord,
		},
		clock: time.Now,
	}
	d.handlers[EventRFIDData] = d.decodeRFIDData

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds or replaces the handler for an event code.
func (d *Decoder) Register(code uint16, fn DecodeFunc) {
	d.handlers[code] = fn
}

// RegisterRFIDPacket adds or replaces the handler for an RFID packet type.
func (d *Decoder) RegisterRFIDPacket(packetType uint16, fn RFIDPacketFunc) {
	d.rfid[packetType] = fn
}

func (d *Decoder) SetMode(m Mode) { d.mode = m }

func (d *Decoder) Mode() Mode { return d.mode }

// Decode decodes f using the decoder clock for timestamps.
func (d *Decoder) Decode(f Frame) (Event, error) {
	return d.DecodeAt(f, d.clock())
}

// DecodeAt decodes f as if it arrived at now. A missing table entry is not an
// error: the frame decodes to Unknown.
func (d *Decoder) DecodeAt(f Frame, now time.Time) (Event, error) {
	fn, ok := d.handlers[f.EventCode]
	if !ok {
		return unknown(f), nil
	}
	return fn(DecodeContext{Mode: d.mode, Now: now}, f)
}

func unknown(f Frame) Unknown {
	return Unknown{RawEventCode: f.EventCode, RawPayload: bytes.Clone(f.Data())}
}

func truncated(code uint16, need, have int) error {
	return fmt.Errorf("%w: event 0x%04X needs %d bytes, have %d", ErrTruncatedEvent, code, need, have)
}

func decodeCommandResponse(_ DecodeContext, f Frame) (Event, error) {
	data := f.Data()
	resp := CommandResponse{Module: f.DeviceID, EventCode: f.EventCode}
	if len(data) > 0 {
		resp.Status = data[0]
		resp.Data = bytes.Clone(data)
	}
	return resp, nil
}

func decodeBattery(_ DecodeContext, f Frame) (Event, error) {
	data := f.Data()
	if len(data) < 2 {
		return nil, truncated(f.EventCode, 2, len(data))
	}
	mv := int(binary.BigEndian.Uint16(data))
	return BatteryStatus{Millivolts: mv, Percent: BatteryPercent(mv)}, nil
}

func decodeTriggerState(_ DecodeContext, f Frame) (Event, error) {
	data := f.Data()
	if len(data) < 1 {
		return nil, truncated(f.EventCode, 1, 0)
	}
	return TriggerState{EventCode: f.EventCode, Pressed: data[0] != 0}, nil
}

func decodeTriggerEdge(pressed bool) DecodeFunc {
	return func(_ DecodeContext, f Frame) (Event, error) {
		return TriggerState{EventCode: f.EventCode, Pressed: pressed}, nil
	}
}

// decodeBarcodeChunk reads a barcode fragment:
//
//	seq(1) index(1) [total(2 BE) crc(2 BE) when index == 0] data...
func decodeBarcodeChunk(_ DecodeContext, f Frame) (Event, error) {
	data := f.Data()
	if len(data) < 2 {
		return nil, truncated(f.EventCode, 2, len(data))
	}
	chunk := BarcodeChunk{Sequence: data[0], Index: data[1]}
	if chunk.Index != 0 {
		chunk.Data = bytes.Clone(data[2:])
		return chunk, nil
	}
	if len(data) < 6 {
		return nil, truncated(f.EventCode, 6, len(data))
	}
	chunk.Total = int(binary.BigEndian.Uint16(data[2:4]))
	chunk.CRC = binary.BigEndian.Uint16(data[4:6])
	chunk.Data = bytes.Clone(data[6:])
	return chunk, nil
}

// decodeRFIDData unwraps the RFID module packet header:
//
//	ver(1) flags(1) type(2 LE) len(2 LE) reserved(2) body...
func (d *Decoder) decodeRFIDData(ctx DecodeContext, f Frame) (Event, error) {
	data := f.Data()
	if len(data) < rfidHeaderSize {
		return nil, truncated(f.EventCode, rfidHeaderSize, len(data))
	}
	pkt := RFIDPacket{
		Version: data[0],
		Flags:   data[1],
		Type:    binary.LittleEndian.Uint16(data[2:4]),
	}
	fn, ok := d.rfid[pkt.Type]
	if !ok {
		return unknown(f), nil
	}

	bodyLen := int(binary.LittleEndian.Uint16(data[4:6]))
	body := data[rfidHeaderSize:]
	if len(body) < bodyLen {
		return nil, truncated(f.EventCode, rfidHeaderSize+bodyLen, len(data))
	}
	pkt.Body = body[:bodyLen]
	return fn(ctx, pkt)
}

// decodeInventoryRecord reads one full-mode inventory record:
//
//	ms(4 LE) wb_rssi(1) nb_rssi(1) phase(1) channel(1) antenna(2 LE) pc(2 BE) epc...
//
// The EPC length in words is carried in PC bits 15..11.
func decodeInventoryRecord(ctx DecodeContext, pkt RFIDPacket) (Event, error) {
	body := pkt.Body
	if len(body) < inventoryBodySize {
		return nil, truncated(EventRFIDData, inventoryBodySize, len(body))
	}
	pc := binary.BigEndian.Uint16(body[10:12])
	epcLen := int(pc>>11) * 2
	if len(body) < inventoryBodySize+epcLen {
		return nil, truncated(EventRFIDData, inventoryBodySize+epcLen, len(body))
	}

	epc := strings.ToUpper(hex.EncodeToString(body[inventoryBodySize : inventoryBodySize+epcLen]))
	rssi := NarrowbandRSSI(body[5])
	antenna := int(binary.LittleEndian.Uint16(body[8:10]))

	if ctx.Mode == ModeLocate {
		return LocateUpdate{
			EPC:       epc,
			RSSI:      rssi,
			Antenna:   antenna,
			Timestamp: ctx.Now,
		}, nil
	}
	return InventoryTagRead{
		EPC:          epc,
		PC:           pc,
		RSSI:         rssi,
		Antenna:      antenna,
		Phase:        int(body[6]),
		Channel:      int(body[7]),
		ReaderMillis: binary.LittleEndian.Uint32(body[0:4]),
		Timestamp:    ctx.Now,
	}, nil
}

// NarrowbandRSSI converts the reader's mantissa/exponent RSSI byte to dBm,
// rounded to 0.1.
func NarrowbandRSSI(raw byte) float64 {
	mantissa := float64(raw & 0x07)
	exponent := float64((raw >> 3) & 0x1F)
	dbuv := 20 * math.Log10(math.Pow(2, exponent)*(1+mantissa/8))
	return math.Round((dbuv-106.98)*10) / 10
}

var batteryCurve = []struct {
	mv      int
	percent int
}{
	{3400, 0},
	{3500, 5},
	{3600, 15},
	{3700, 35},
	{3800, 55},
	{3900, 70},
	{4000, 85},
	{4100, 95},
	{4200, 100},
}

// BatteryPercent maps a pack voltage to charge percentage by linear
// interpolation over the discharge curve.
func BatteryPercent(mv int) int {
	if mv <= batteryCurve[0].mv {
		return 0
	}
	last := batteryCurve[len(batteryCurve)-1]
	if mv >= last.mv {
		return last.percent
	}
	for i := 1; i < len(batteryCurve); i++ {
		hi := batteryCurve[i]
		if mv > hi.mv {
			continue
		}
		lo := batteryCurve[i-1]
		return lo.percent + (mv-lo.mv)*(hi.percent-lo.percent)/(hi.mv-lo.mv)
	}
	return last.percent
}
