//go:build test

// Package mocks holds testify mocks for the go-ble interfaces used by the
// go-ble backend. Each mock embeds the interface it stands in for, so only the
// methods the backend calls need expectations; anything else panics.
package mocks

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockAddr mocks ble.Addr.
type MockAddr struct {
	mock.Mock
}

func (m *MockAddr) String() string {
	return m.Called().String(0)
}

// MockAdvertisement mocks ble.Advertisement.
type MockAdvertisement struct {
	ble.Advertisement
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string {
	return m.Called().String(0)
}

func (m *MockAdvertisement) RSSI() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Addr() ble.Addr {
	args := m.Called()
	if a := args.Get(0); a != nil {
		return a.(ble.Addr)
	}
	return nil
}

func (m *MockAdvertisement) ManufacturerData() []byte {
	args := m.Called()
	if b := args.Get(0); b != nil {
		return b.([]byte)
	}
	return nil
}

func (m *MockAdvertisement) Services() []ble.UUID {
	args := m.Called()
	if u := args.Get(0); u != nil {
		return u.([]ble.UUID)
	}
	return nil
}

func (m *MockAdvertisement) Connectable() bool {
	return m.Called().Bool(0)
}

// MockDevice mocks ble.Device.
type MockDevice struct {
	ble.Device
	mock.Mock
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	if fn, ok := args.Get(0).(func(context.Context, bool, ble.AdvHandler) error); ok {
		return fn(ctx, allowDup, h)
	}
	return args.Error(0)
}

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	if c := args.Get(0); c != nil {
		return c.(ble.Client), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockClient mocks ble.Client. The disconnected channel is owned by the mock:
// Drop closes it to simulate the peripheral going away.
type MockClient struct {
	ble.Client
	mock.Mock

	dropOnce     sync.Once
	disconnected chan struct{}
	cancels      atomic.Int32
}

// NewMockClient returns a client whose Disconnected channel is open.
func NewMockClient() *MockClient {
	return &MockClient{disconnected: make(chan struct{})}
}

func (m *MockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	if p := args.Get(0); p != nil {
		return p.(*ble.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *MockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *MockClient) ClearSubscriptions() error {
	return m.Called().Error(0)
}

func (m *MockClient) CancelConnection() error {
	m.cancels.Add(1)
	return m.Called().Error(0)
}

// CancelCount reports how many times CancelConnection was called.
func (m *MockClient) CancelCount() int {
	return int(m.cancels.Load())
}

func (m *MockClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// Drop simulates a remote disconnect.
func (m *MockClient) Drop() {
	m.dropOnce.Do(func() { close(m.disconnected) })
}
