package cs108

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Header field values used by the reader on its uplink.
const (
	PrefixByte     byte = 0xA7
	ConnBLE        byte = 0xB3
	ConnUSB        byte = 0xE6
	ReservedByte   byte = 0x82
	DirectionUp    byte = 0x9E
	DirectionDown  byte = 0x37
	HeaderSize          = 8
	MaxPayloadSize      = 120
	EventCodeSize       = 2
)

// Module identifies the reader subsystem a frame originates from.
type Module byte

const (
	ModuleRFID         Module = 0xC2
	ModuleBarcode      Module = 0x6A
	ModuleNotification Module = 0xD9
	ModuleSiliconLab   Module = 0xE8
	ModuleBluetooth    Module = 0x5F
)

func (m Module) String() string {
	switch m {
	case ModuleRFID:
		return "rfid"
	case ModuleBarcode:
		return "barcode"
	case ModuleNotification:
		return "notification"
	case ModuleSiliconLab:
		return "siliconlab"
	case ModuleBluetooth:
		return "bluetooth"
	default:
		return fmt.Sprintf("module(0x%02X)", byte(m))
	}
}

// ChecksumFunc computes the frame checksum over the header bytes that precede
// the checksum field followed by the payload.
type ChecksumFunc func(header, payload []byte) uint16

// Layout describes the byte-level frame format. It is a vendor constant; the
// zero value is not usable, start from DefaultLayout.
type Layout struct {
	Marker         []byte
	HeaderSize     int
	ConnOffset     int
	LengthOffset   int
	ModuleOffset   int
	ReservedOffset int
	DirOffset      int
	ChecksumOffset int
	MaxPayload     int
	Checksum       ChecksumFunc
}

// DefaultLayout returns the CS108 uplink layout:
//
//	A7 B3 <len> <module> 82 <dir> <crc hi> <crc lo> | <event code hi> <event code lo> <data...>
func DefaultLayout() Layout {
	return Layout{
		Marker:         []byte{PrefixByte, ConnBLE},
		HeaderSize:     HeaderSize,
		ConnOffset:     1,
		LengthOffset:   2,
		ModuleOffset:   3,
		ReservedOffset: 4,
		DirOffset:      5,
		ChecksumOffset: 6,
		MaxPayload:     MaxPayloadSize,
		Checksum:       KermitChecksum,
	}
}

// MaxFrameSize is the largest frame the layout can describe.
func (l Layout) MaxFrameSize() int {
	return l.HeaderSize + l.MaxPayload
}

// Frame is one validated protocol message.
type Frame struct {
	Length     int
	Connection byte
	DeviceID   Module
	Direction  byte
	Checksum   uint16
	EventCode  uint16
	Payload    []byte // full payload including the event code
	Raw        []byte
}

// Data returns the payload bytes following the event code.
func (f Frame) Data() []byte {
	if len(f.Payload) < EventCodeSize {
		return nil
	}
	return f.Payload[EventCodeSize:]
}

// Validate checks raw against the default layout.
func Validate(raw []byte) (Frame, error) {
	return DefaultLayout().Validate(raw)
}

// Validate checks structural integrity of one candidate frame: marker, declared
// length against the bytes actually present, and the checksum.
func (l Layout) Validate(raw []byte) (Frame, error) {
	if len(raw) < l.HeaderSize {
		return Frame{}, fmt.Errorf("%w: have %d bytes, header needs %d", ErrShortFrame, len(raw), l.HeaderSize)
	}
	if !bytes.HasPrefix(raw, l.Marker) {
		return Frame{}, ErrBadMarker
	}

	declared := int(raw[l.LengthOffset])
	present := len(raw) - l.HeaderSize
	if declared != present || declared > l.MaxPayload || declared < EventCodeSize {
		return Frame{}, &FrameError{Kind: LengthMismatch, Declared: declared, Actual: present}
	}

	header := raw[:l.ChecksumOffset]
	payload := raw[l.HeaderSize:]
	want := binary.BigEndian.Uint16(raw[l.ChecksumOffset:])
	got := l.Checksum(header, payload)
	if got != want {
		return Frame{}, &FrameError{Kind: ChecksumMismatch, Declared: int(want), Actual: int(got)}
	}

	frameRaw := make([]byte, len(raw))
	copy(frameRaw, raw)
	return Frame{
		Length:     declared,
		Connection: frameRaw[l.ConnOffset],
		DeviceID:   Module(frameRaw[l.ModuleOffset]),
		Direction:  frameRaw[l.DirOffset],
		Checksum:   want,
		EventCode:  binary.BigEndian.Uint16(frameRaw[l.HeaderSize:]),
		Payload:    frameRaw[l.HeaderSize:],
		Raw:        frameRaw,
	}, nil
}

// Encode builds a valid uplink frame. It exists for fixtures and captures; the
// reader never accepts uplink frames.
func (l Layout) Encode(module Module, eventCode uint16, data []byte) ([]byte, error) {
	payloadLen := EventCodeSize + len(data)
	if payloadLen > l.MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrPayloadTooLarge, payloadLen, l.MaxPayload)
	}

	raw := make([]byte, l.HeaderSize, l.HeaderSize+payloadLen)
	copy(raw, l.Marker)
	raw[l.LengthOffset] = byte(payloadLen)
	raw[l.ModuleOffset] = byte(module)
	raw[l.ReservedOffset] = ReservedByte
	raw[l.DirOffset] = DirectionUp
	raw = binary.BigEndian.AppendUint16(raw, eventCode)
	raw = append(raw, data...)

	crc := l.Checksum(raw[:l.ChecksumOffset], raw[l.HeaderSize:])
	binary.BigEndian.PutUint16(raw[l.ChecksumOffset:], crc)
	return raw, nil
}

// KermitChecksum is the CS108 frame checksum: CRC-16/KERMIT over the header
// prefix and payload.
func KermitChecksum(header, payload []byte) uint16 {
	return CRC16Kermit(header, payload)
}

// CRC16Kermit computes CRC-16/KERMIT (poly 0x1021 reflected, init 0, no final
// xor) over the concatenation of parts.
func CRC16Kermit(parts ...[]byte) uint16 {
	var crc uint16
	for _, p := range parts {
		crc = crc16KermitUpdate(crc, p)
	}
	return crc
}

func crc16KermitUpdate(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
