package transport

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBluetoothOff           = errors.New("bluetooth is turned off")
	ErrNotConnected           = errors.New("reader not connected")
	ErrUnsupportedPlatform    = errors.New("bluetooth is not supported on this platform")
	ErrServiceNotFound        = errors.New("reader service not found")
	ErrCharacteristicNotFound = errors.New("notify characteristic not found")
	ErrInvalidCapture         = errors.New("invalid capture")
)

// NormalizeError maps go-ble error strings onto the sentinels above, keeping
// the original error text.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "have=4 want=5"),
		strings.Contains(msg, "bluetooth is turned off"),
		strings.Contains(msg, "powered off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case strings.Contains(msg, "device not connected"),
		strings.Contains(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	default:
		return err
	}
}
