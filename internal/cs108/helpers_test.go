package cs108

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// scenarioAFrame is a battery report captured from a reader: 0x0FA1 = 4001 mV.
var scenarioAFrame = []byte{0xA7, 0xB3, 0x04, 0xD9, 0x82, 0x9E, 0xB4, 0xD1, 0xA0, 0x00, 0x0F, 0xA1}

var testEPC = []byte{0xE2, 0x80, 0x68, 0x94, 0x00, 0x00, 0x50, 0x0A, 0x3B, 0x1C, 0x2D, 0x4E}

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func mustEncode(t testing.TB, module Module, code uint16, data []byte) []byte {
	t.Helper()
	raw, err := DefaultLayout().Encode(module, code, data)
	require.NoError(t, err)
	return raw
}

func batteryFrame(t testing.TB, mv uint16) []byte {
	t.Helper()
	return mustEncode(t, ModuleNotification, EventBatteryVoltage, binary.BigEndian.AppendUint16(nil, mv))
}

// inventoryData builds an RFID module packet holding one full-mode inventory record.
func inventoryData(ms uint32, nbRSSI, phase, channel byte, antenna uint16, epc []byte) []byte {
	body := make([]byte, inventoryBodySize, inventoryBodySize+len(epc))
	binary.LittleEndian.PutUint32(body[0:4], ms)
	body[5] = nbRSSI
	body[6] = phase
	body[7] = channel
	binary.LittleEndian.PutUint16(body[8:10], antenna)
	binary.BigEndian.PutUint16(body[10:12], uint16(len(epc)/2)<<11)
	body = append(body, epc...)

	pkt := make([]byte, rfidHeaderSize, rfidHeaderSize+len(body))
	pkt[0] = 0x03
	binary.LittleEndian.PutUint16(pkt[2:4], RFIDPacketInventory)
	binary.LittleEndian.PutUint16(pkt[4:6], uint16(len(body)))
	return append(pkt, body...)
}

func inventoryFrame(t testing.TB, nbRSSI byte, antenna uint16, epc []byte) []byte {
	t.Helper()
	return mustEncode(t, ModuleRFID, EventRFIDData, inventoryData(1500, nbRSSI, 0x11, 7, antenna, epc))
}

// barcodeFrames splits value into fragment frames of at most per bytes each.
func barcodeFrames(t testing.TB, seq byte, value string, per int) [][]byte {
	t.Helper()
	raw := []byte(value)
	crc := CRC16Kermit(raw)

	var frames [][]byte
	for idx := 0; len(raw) > 0 || idx == 0; idx++ {
		n := min(per, len(raw))
		data := []byte{seq, byte(idx)}
		if idx == 0 {
			data = binary.BigEndian.AppendUint16(data, uint16(len(value)))
			data = binary.BigEndian.AppendUint16(data, crc)
		}
		data = append(data, raw[:n]...)
		raw = raw[n:]
		frames = append(frames, mustEncode(t, ModuleBarcode, EventBarcodeData, data))
	}
	return frames
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
