//go:build !darwin && !linux

package transport

import "github.com/go-ble/ble"

func newPlatformDevice() (ble.Device, error) {
	return nil, ErrUnsupportedPlatform
}
