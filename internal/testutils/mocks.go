package testutils

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockAdvertisement implements ble.Advertisement.
type MockAdvertisement struct {
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockAdvertisement) ManufacturerData() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockAdvertisement) ServiceData() []ble.ServiceData {
	args := m.Called()
	return args.Get(0).([]ble.ServiceData)
}

func (m *MockAdvertisement) Services() []ble.UUID {
	args := m.Called()
	return args.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) OverflowService() []ble.UUID {
	args := m.Called()
	return args.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) TxPowerLevel() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockAdvertisement) Connectable() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockAdvertisement) SolicitedService() []ble.UUID {
	args := m.Called()
	return args.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) RSSI() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockAdvertisement) Addr() ble.Addr {
	args := m.Called()
	return args.Get(0).(ble.Addr)
}

// MockAddr implements ble.Addr.
type MockAddr struct {
	Address string
}

func (m *MockAddr) String() string {
	return m.Address
}

// NewAdvertisement returns a MockAdvertisement whose getters may be called
// any number of times.
func NewAdvertisement(addr, name string, rssi int, services ...ble.UUID) *MockAdvertisement {
	if services == nil {
		services = []ble.UUID{}
	}
	adv := &MockAdvertisement{}
	adv.On("Addr").Return(&MockAddr{Address: addr}).Maybe()
	adv.On("LocalName").Return(name).Maybe()
	adv.On("RSSI").Return(rssi).Maybe()
	adv.On("Services").Return(services).Maybe()
	adv.On("Connectable").Return(true).Maybe()
	adv.On("ManufacturerData").Return([]byte{}).Maybe()
	adv.On("ServiceData").Return([]ble.ServiceData{}).Maybe()
	adv.On("OverflowService").Return([]ble.UUID{}).Maybe()
	adv.On("SolicitedService").Return([]ble.UUID{}).Maybe()
	adv.On("TxPowerLevel").Return(0).Maybe()
	return adv
}

// FakeScanDevice replays advertisements to a scan handler.
type FakeScanDevice struct {
	Advertisements []ble.Advertisement
	// Err is returned after the advertisements were delivered. A nil Err
	// makes Scan block until ctx is done, like a real adapter.
	Err error

	mu       sync.Mutex
	scans    int
	allowDup bool
}

func (f *FakeScanDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	f.mu.Lock()
	f.scans++
	f.allowDup = allowDup
	f.mu.Unlock()

	for _, adv := range f.Advertisements {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h(adv)
	}
	if f.Err != nil {
		return f.Err
	}
	<-ctx.Done()
	return ctx.Err()
}

// Scans returns how many times Scan was called.
func (f *FakeScanDevice) Scans() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

// AllowDup returns the allowDup flag of the last scan.
func (f *FakeScanDevice) AllowDup() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allowDup
}
