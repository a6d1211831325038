//go:build linux

package transport

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

func newPlatformDevice() (ble.Device, error) {
	dev, err := linux.NewDevice()
	if err != nil {
		return nil, err
	}
	return dev, nil
}
