package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// CS108 GATT layout: commands are written to 9900, every uplink frame arrives
// as notifications on 9901.
var (
	ReaderServiceUUID = ble.MustParse("9800")
	NotifyCharUUID    = ble.MustParse("9901")
)

const DefaultConnectTimeout = 10 * time.Second

// DeviceFactory creates the host BLE device. Tests replace it.
//
//nolint:revive // exported for test overrides
var DeviceFactory = newPlatformDevice

// BLEOptions configures a BLESource.
type BLEOptions struct {
	Address        string
	ConnectTimeout time.Duration
}

// BLESource streams notification payloads from a CS108 over BLE.
type BLESource struct {
	opts   BLEOptions
	logger *logrus.Logger
}

func NewBLESource(opts BLEOptions, logger *logrus.Logger) *BLESource {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &BLESource{opts: opts, logger: logger}
}

// Stream connects, subscribes to the notify characteristic and forwards
// payloads until ctx is done or the reader disconnects.
func (s *BLESource) Stream(ctx context.Context, onData DataFunc) error {
	address := strings.TrimSpace(s.opts.Address)
	if address == "" {
		return fmt.Errorf("reader address is empty")
	}

	dev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	ble.SetDefaultDevice(dev)

	log := s.logger.WithField("address", address)
	log.WithField("timeout", s.opts.ConnectTimeout).Info("Connecting to reader...")

	connCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	client, err := ble.Dial(connCtx, ble.NewAddr(address))
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to reader %q: %w", address, NormalizeError(err))
	}
	defer func() {
		if err := client.CancelConnection(); err != nil {
			log.WithError(err).Debug("Cancel connection failed")
		}
	}()

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		return fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	char, err := findNotifyCharacteristic(profile)
	if err != nil {
		return err
	}

	if err := client.Subscribe(char, false, func(data []byte) { onData(data) }); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", NotifyCharUUID, NormalizeError(err))
	}
	defer func() {
		if err := client.Unsubscribe(char, false); err != nil {
			log.WithError(err).Debug("Unsubscribe failed")
		}
	}()
	log.Info("Subscribed to reader notifications")

	var disconnected <-chan struct{}
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		disconnected = dc.Disconnected()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-disconnected:
		log.Warn("Reader disconnected")
		return ErrNotConnected
	}
}

func findNotifyCharacteristic(p *ble.Profile) (*ble.Characteristic, error) {
	if p == nil {
		return nil, ErrServiceNotFound
	}
	for _, svc := range p.Services {
		if !svc.UUID.Equal(ReaderServiceUUID) {
			continue
		}
		for _, c := range svc.Characteristics {
			if !c.UUID.Equal(NotifyCharUUID) {
				continue
			}
			if c.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
				return nil, fmt.Errorf("%w: %s does not notify", ErrCharacteristicNotFound, NotifyCharUUID)
			}
			return c, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, NotifyCharUUID)
	}
	return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, ReaderServiceUUID)
}

// IsLinkError reports whether err means the BLE link itself is unusable.
func IsLinkError(err error) bool {
	return errors.Is(err, ErrBluetoothOff) || errors.Is(err, ErrNotConnected) || errors.Is(err, ErrUnsupportedPlatform)
}
