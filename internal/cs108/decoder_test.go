package cs108

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFrame(t testing.TB, module Module, code uint16, data []byte) Frame {
	t.Helper()
	f, err := Validate(mustEncode(t, module, code, data))
	require.NoError(t, err)
	return f
}

func TestDecoder_Decode(t *testing.T) {
	const wantEPC = "E28068940000500A3B1C2D4E"

	otherPacket := inventoryData(1, 0x60, 0, 0, 1, testEPC)
	binary.LittleEndian.PutUint16(otherPacket[2:4], 0x8001)

	tests := []struct {
		name  string
		mode  Mode
		frame Frame
		want  Event
	}{
		{
			name:  "battery",
			frame: mustFrame(t, ModuleNotification, EventBatteryVoltage, []byte{0x0F, 0xA1}),
			want:  BatteryStatus{Millivolts: 4001, Percent: 85},
		},
		{
			name:  "trigger state pressed",
			frame: mustFrame(t, ModuleNotification, EventTriggerState, []byte{0x01}),
			want:  TriggerState{EventCode: EventTriggerState, Pressed: true},
		},
		{
			name:  "trigger state released",
			frame: mustFrame(t, ModuleNotification, EventTriggerState, []byte{0x00}),
			want:  TriggerState{EventCode: EventTriggerState, Pressed: false},
		},
		{
			name:  "trigger pushed",
			frame: mustFrame(t, ModuleNotification, EventTriggerPushed, nil),
			want:  TriggerState{EventCode: EventTriggerPushed, Pressed: true},
		},
		{
			name:  "trigger released",
			frame: mustFrame(t, ModuleNotification, EventTriggerReleased, nil),
			want:  TriggerState{EventCode: EventTriggerReleased, Pressed: false},
		},
		{
			name:  "rfid power on ack",
			frame: mustFrame(t, ModuleRFID, EventRFIDPowerOn, []byte{0x00}),
			want:  CommandResponse{Module: ModuleRFID, EventCode: EventRFIDPowerOn, Status: 0x00, Data: []byte{0x00}},
		},
		{
			name:  "error notification",
			frame: mustFrame(t, ModuleNotification, EventErrorNotification, []byte{0x03, 0x01}),
			want:  CommandResponse{Module: ModuleNotification, EventCode: EventErrorNotification, Status: 0x03, Data: []byte{0x03, 0x01}},
		},
		{
			name:  "unmapped code",
			frame: mustFrame(t, ModuleBluetooth, 0x1234, []byte{0x01, 0x02}),
			want:  Unknown{RawEventCode: 0x1234, RawPayload: []byte{0x01, 0x02}},
		},
		{
			name:  "inventory record",
			mode:  ModeInventory,
			frame: mustFrame(t, ModuleRFID, EventRFIDData, inventoryData(1500, 0x60, 0x11, 7, 1, testEPC)),
			want: InventoryTagRead{
				EPC:          wantEPC,
				PC:           0x3000,
				RSSI:         -34.7,
				Antenna:      1,
				Phase:        0x11,
				Channel:      7,
				ReaderMillis: 1500,
				Timestamp:    fixedNow,
			},
		},
		{
			name:  "inventory record while locating",
			mode:  ModeLocate,
			frame: mustFrame(t, ModuleRFID, EventRFIDData, inventoryData(1500, 0x5A, 0x11, 7, 2, testEPC)),
			want:  LocateUpdate{EPC: wantEPC, RSSI: -38.8, Antenna: 2, Timestamp: fixedNow},
		},
		{
			name:  "unmapped rfid packet type",
			mode:  ModeInventory,
			frame: mustFrame(t, ModuleRFID, EventRFIDData, otherPacket),
			want:  Unknown{RawEventCode: EventRFIDData, RawPayload: otherPacket},
		},
		{
			name:  "first barcode chunk",
			frame: mustFrame(t, ModuleBarcode, EventBarcodeData, []byte{0x04, 0x00, 0x00, 0x03, 0x12, 0x34, 'a', 'b'}),
			want:  BarcodeChunk{Sequence: 4, Index: 0, Total: 3, CRC: 0x1234, Data: []byte("ab")},
		},
		{
			name:  "continuation barcode chunk",
			frame: mustFrame(t, ModuleBarcode, EventBarcodeData, []byte{0x04, 0x01, 'c'}),
			want:  BarcodeChunk{Sequence: 4, Index: 1, Data: []byte("c")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder()
			d.SetMode(tt.mode)

			got, err := d.DecodeAt(tt.frame, fixedNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecoder_Truncated(t *testing.T) {
	shortEPC := inventoryData(1, 0x60, 0, 0, 1, testEPC[:4])
	binary.BigEndian.PutUint16(shortEPC[rfidHeaderSize+10:], 6<<11)

	shortBody := inventoryData(1, 0x60, 0, 0, 1, testEPC)
	binary.LittleEndian.PutUint16(shortBody[4:6], 0xFF)

	tests := []struct {
		name  string
		frame Frame
	}{
		{"battery one byte", mustFrame(t, ModuleNotification, EventBatteryVoltage, []byte{0x0F})},
		{"trigger state empty", mustFrame(t, ModuleNotification, EventTriggerState, nil)},
		{"rfid header short", mustFrame(t, ModuleRFID, EventRFIDData, []byte{0x03, 0x00, 0x05})},
		{"rfid body shorter than declared", mustFrame(t, ModuleRFID, EventRFIDData, shortBody)},
		{"epc shorter than pc", mustFrame(t, ModuleRFID, EventRFIDData, shortEPC)},
		{"barcode chunk without header", mustFrame(t, ModuleBarcode, EventBarcodeData, []byte{0x01})},
		{"first barcode chunk without total", mustFrame(t, ModuleBarcode, EventBarcodeData, []byte{0x01, 0x00, 0x00})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := NewDecoder().DecodeAt(tt.frame, fixedNow)
			assert.ErrorIs(t, err, ErrTruncatedEvent)
			assert.Nil(t, ev)
		})
	}
}

func TestDecoder_DecodeUsesClock(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	d := NewDecoder(WithClock(func() time.Time { return at }))
	d.SetMode(ModeLocate)

	ev, err := d.Decode(mustFrame(t, ModuleRFID, EventRFIDData, inventoryData(1, 0x63, 0, 0, 1, testEPC)))
	require.NoError(t, err)
	require.IsType(t, LocateUpdate{}, ev)
	assert.Equal(t, at, ev.(LocateUpdate).Timestamp)
	assert.Equal(t, -32.0, ev.(LocateUpdate).RSSI)
}

func TestDecoder_Register(t *testing.T) {
	d := NewDecoder()

	const vendorCode uint16 = 0x7001
	d.Register(vendorCode, func(_ DecodeContext, f Frame) (Event, error) {
		return CommandResponse{Module: f.DeviceID, EventCode: f.EventCode, Status: 0x42}, nil
	})

	ev, err := d.DecodeAt(mustFrame(t, ModuleSiliconLab, vendorCode, nil), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, CommandResponse{Module: ModuleSiliconLab, EventCode: vendorCode, Status: 0x42}, ev)

	const tagAccess uint16 = 0x0006
	d.RegisterRFIDPacket(tagAccess, func(_ DecodeContext, pkt RFIDPacket) (Event, error) {
		return Unknown{RawEventCode: pkt.Type, RawPayload: pkt.Body}, nil
	})

	data := []byte{0x03, 0x00, 0x06, 0x00, 0x02, 0x00, 0x00, 0x00, 0xAA, 0xBB, 0xCC}
	ev, err = d.DecodeAt(mustFrame(t, ModuleRFID, EventRFIDData, data), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, Unknown{RawEventCode: tagAccess, RawPayload: []byte{0xAA, 0xBB}}, ev)
}

func TestNarrowbandRSSI(t *testing.T) {
	tests := []struct {
		raw  byte
		want float64
	}{
		{0x00, -107.0},
		{0x5A, -38.8},
		{0x60, -34.7},
		{0x63, -32.0},
		{0xFF, 85.1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, NarrowbandRSSI(tt.raw), 1e-9, "raw 0x%02X", tt.raw)
	}
}

func TestBatteryPercent(t *testing.T) {
	tests := []struct {
		mv   int
		want int
	}{
		{0, 0},
		{3400, 0},
		{3450, 2},
		{3750, 45},
		{4000, 85},
		{4001, 85},
		{4150, 97},
		{4200, 100},
		{5000, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BatteryPercent(tt.mv), "%d mV", tt.mv)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeIdle},
		{in: "Inventory", want: ModeInventory},
		{in: " locate ", want: ModeLocate},
		{in: "search", want: ModeLocate},
		{in: "barcode", want: ModeBarcode},
		{in: "write", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, must(ParseMode(got.String())))
		})
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
