package main

import (
	"errors"
	"strings"

	"github.com/trakrf/platform-sub018/internal/config"
	"github.com/trakrf/platform-sub018/internal/cs108"
	"github.com/trakrf/platform-sub018/internal/sink"
	"github.com/trakrf/platform-sub018/internal/transport"
)

var userHints = []struct {
	err  error
	hint string
}{
	{transport.ErrBluetoothOff, "Bluetooth is off. Turn it on and try again."},
	{transport.ErrUnsupportedPlatform, "BLE is only supported on Linux and macOS. Use 'replay' to decode captures."},
	{transport.ErrServiceNotFound, "The device does not expose the CS108 reader service. Is it a CS108?"},
	{transport.ErrCharacteristicNotFound, "The reader service has no notify characteristic. Check the reader firmware."},
	{transport.ErrNotConnected, "The reader disconnected. Check that it is powered and in range."},
	{transport.ErrInvalidCapture, "The capture is not valid hex. Use --hex only for text captures."},
	{config.ErrInvalidConfig, "Check the config file and flags."},
	{cs108.ErrPayloadTooLarge, "Frame data is too long for one frame."},
	{sink.ErrInvalidSubject, "NATS subjects are dot-separated tokens without spaces or wildcards."},
}

// FormatUserError turns an error into a message with a remediation hint
// when one is known.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, h := range userHints {
		if errors.Is(err, h.err) {
			if strings.Contains(msg, h.hint) {
				return msg
			}
			return msg + "\n" + h.hint
		}
	}
	return msg
}
