package cs108

import (
	"fmt"
	"time"
)

// Kind tags the concrete type behind an Event.
type Kind int

const (
	KindUnknown Kind = iota
	KindCommandResponse
	KindBattery
	KindTrigger
	KindLocate
	KindInventory
	KindBarcode
	KindBarcodeChunk
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindCommandResponse: "command_response",
	KindBattery:         "battery",
	KindTrigger:         "trigger",
	KindLocate:          "locate",
	KindInventory:       "inventory",
	KindBarcode:         "barcode",
	KindBarcodeChunk:    "barcode_chunk",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is a decoded hardware event. The set of implementations is closed to
// this package; consumers type-switch on the concrete value. Events are values
// and are never mutated once produced.
type Event interface {
	Kind() Kind
	Code() uint16
	isEvent()
}

// CommandResponse acknowledges a command or reports reader status.
type CommandResponse struct {
	Module    Module `json:"module"`
	EventCode uint16 `json:"event_code"`
	Status    byte   `json:"status"`
	Data      []byte `json:"data,omitempty"`
}

// BatteryStatus is a battery voltage report.
type BatteryStatus struct {
	Millivolts int `json:"millivolts"`
	Percent    int `json:"percent"`
}

// TriggerState reports the handheld trigger.
type TriggerState struct {
	EventCode uint16 `json:"event_code"`
	Pressed   bool   `json:"pressed"`
}

// LocateUpdate is a proximity sample for the tag being searched for.
type LocateUpdate struct {
	EPC       string    `json:"epc"`
	RSSI      float64   `json:"rssi"`
	Antenna   int       `json:"antenna"`
	Timestamp time.Time `json:"timestamp"`
}

// InventoryTagRead is one tag observed during inventory.
type InventoryTagRead struct {
	EPC          string    `json:"epc"`
	PC           uint16    `json:"pc"`
	RSSI         float64   `json:"rssi"`
	Antenna      int       `json:"antenna"`
	Phase        int       `json:"phase"`
	Channel      int       `json:"channel"`
	ReaderMillis uint32    `json:"reader_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

// BarcodeScan is a completed, CRC-checked barcode value with its AIM
// symbology identifier split off.
type BarcodeScan struct {
	Value     string `json:"value"`
	AIMPrefix string `json:"aim_prefix,omitempty"`
}

// BarcodeChunk is one fragment of a multi-frame barcode. It is consumed by
// the BarcodeAssembler and never delivered to consumers.
type BarcodeChunk struct {
	Sequence byte   `json:"sequence"`
	Index    byte   `json:"index"`
	Total    int    `json:"total,omitempty"`
	CRC      uint16 `json:"crc,omitempty"`
	Data     []byte `json:"data"`
}

// Unknown carries an event code the decoder has no entry for.
type Unknown struct {
	RawEventCode uint16 `json:"raw_event_code"`
	RawPayload   []byte `json:"raw_payload"`
}

func (CommandResponse) Kind() Kind     { return KindCommandResponse }
func (e CommandResponse) Code() uint16 { return e.EventCode }
func (CommandResponse) isEvent()       {}

func (BatteryStatus) Kind() Kind   { return KindBattery }
func (BatteryStatus) Code() uint16 { return EventBatteryVoltage }
func (BatteryStatus) isEvent()     {}

func (TriggerState) Kind() Kind     { return KindTrigger }
func (e TriggerState) Code() uint16 { return e.EventCode }
func (TriggerState) isEvent()       {}

func (LocateUpdate) Kind() Kind   { return KindLocate }
func (LocateUpdate) Code() uint16 { return EventRFIDData }
func (LocateUpdate) isEvent()     {}

func (InventoryTagRead) Kind() Kind   { return KindInventory }
func (InventoryTagRead) Code() uint16 { return EventRFIDData }
func (InventoryTagRead) isEvent()     {}

func (BarcodeScan) Kind() Kind   { return KindBarcode }
func (BarcodeScan) Code() uint16 { return EventBarcodeData }
func (BarcodeScan) isEvent()     {}

func (BarcodeChunk) Kind() Kind   { return KindBarcodeChunk }
func (BarcodeChunk) Code() uint16 { return EventBarcodeData }
func (BarcodeChunk) isEvent()     {}

func (Unknown) Kind() Kind     { return KindUnknown }
func (e Unknown) Code() uint16 { return e.RawEventCode }
func (Unknown) isEvent()       {}
