//go:build test

package testutils

import (
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/srg/blelink/internal/device"
)

// MockCentral is a testify mock of device.Central that also captures the
// handlers it is given, so tests can play the platform's role and fire
// callbacks at will.
//
//	central := testutils.NewMockCentral()
//	central.On("StartScan", mock.Anything).Return(errors.New("radio off")).Once()
//	central.ExpectDefaults()
//
// Expectations registered before ExpectDefaults take precedence.
type MockCentral struct {
	mock.Mock

	mu           sync.Mutex
	scanHandlers []device.ScanHandler
	links        []*MockLink

	// LinkSetup, when set, configures every new link before Connect returns.
	LinkSetup func(*MockLink)
}

// NewMockCentral creates a MockCentral without expectations.
func NewMockCentral() *MockCentral {
	return &MockCentral{}
}

// ExpectDefaults registers permissive expectations for every Central method.
func (m *MockCentral) ExpectDefaults() *MockCentral {
	m.On("StartScan", mock.Anything).Return(nil).Maybe()
	m.On("StopScan").Return(nil).Maybe()
	m.On("Connect", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	m.On("Close").Return(nil).Maybe()
	return m
}

func (m *MockCentral) StartScan(h device.ScanHandler) error {
	args := m.Called(h)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.scanHandlers = append(m.scanHandlers, h)
	m.mu.Unlock()
	return nil
}

func (m *MockCentral) StopScan() error {
	return m.Called().Error(0)
}

// Connect returns a fresh MockLink unless the expectation supplies an error.
func (m *MockCentral) Connect(id string, h device.LinkHandler) (device.Link, error) {
	args := m.Called(id, h)
	if err := args.Error(1); err != nil {
		return nil, err
	}

	link := NewMockLink(id, h)
	if m.LinkSetup != nil {
		m.LinkSetup(link)
	}
	m.mu.Lock()
	m.links = append(m.links, link)
	m.mu.Unlock()

	link.start()
	return link, nil
}

func (m *MockCentral) Close() error {
	return m.Called().Error(0)
}

// ScanHandler returns the handler of the most recent successful StartScan.
func (m *MockCentral) ScanHandler() device.ScanHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.scanHandlers) == 0 {
		return nil
	}
	return m.scanHandlers[len(m.scanHandlers)-1]
}

// ScanStarts returns how many scans were accepted.
func (m *MockCentral) ScanStarts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scanHandlers)
}

// Advertise reports records through the current scan handler.
func (m *MockCentral) Advertise(recs ...device.PeripheralRecord) {
	h := m.ScanHandler()
	if h == nil {
		return
	}
	for _, rec := range recs {
		h.OnScanResult(rec)
	}
}

// FailScan reports an asynchronous scan failure through the current handler.
func (m *MockCentral) FailScan(err error) {
	if h := m.ScanHandler(); h != nil {
		h.OnScanFailed(err)
	}
}

// Links returns every link handed out so far.
func (m *MockCentral) Links() []*MockLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockLink(nil), m.links...)
}

// LastLink returns the most recent link, or nil.
func (m *MockCentral) LastLink() *MockLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.links) == 0 {
		return nil
	}
	return m.links[len(m.links)-1]
}

// MockLink is a recording device.Link. Callbacks are fired either manually
// (Connected, Drop, Discovered, Ack, Notify) or automatically from goroutines
// when the Auto* fields are set.
type MockLink struct {
	id      string
	handler device.LinkHandler

	// AutoConnect reports the link up right after Connect.
	AutoConnect bool
	// AutoDiscover answers DiscoverServices with Services.
	AutoDiscover bool
	// AutoAck acknowledges every EnableNotifications with AckErrors[charID].
	AutoAck bool

	Services    []device.Service
	DiscoverErr error            // returned synchronously by DiscoverServices
	EnableErrs  map[string]error // returned synchronously by EnableNotifications
	AckErrors   map[string]error

	mu        sync.Mutex
	closed    int
	discovers int
	enabled   []string
}

// NewMockLink creates a link reporting to h.
func NewMockLink(id string, h device.LinkHandler) *MockLink {
	return &MockLink{
		id:         id,
		handler:    h,
		EnableErrs: map[string]error{},
		AckErrors:  map[string]error{},
	}
}

func (l *MockLink) start() {
	if l.AutoConnect {
		go l.handler.OnConnectionStateChange(true, nil)
	}
}

func (l *MockLink) ID() string {
	return l.id
}

func (l *MockLink) DiscoverServices() error {
	l.mu.Lock()
	l.discovers++
	l.mu.Unlock()

	if l.DiscoverErr != nil {
		return l.DiscoverErr
	}
	if l.AutoDiscover {
		services := l.Services
		go l.handler.OnServicesDiscovered(services, nil)
	}
	return nil
}

func (l *MockLink) EnableNotifications(charID string) error {
	l.mu.Lock()
	l.enabled = append(l.enabled, charID)
	l.mu.Unlock()

	if err := l.EnableErrs[charID]; err != nil {
		return err
	}
	if l.AutoAck {
		ackErr := l.AckErrors[charID]
		go l.handler.OnNotificationsEnabled(charID, ackErr)
	}
	return nil
}

func (l *MockLink) Close() error {
	l.mu.Lock()
	l.closed++
	l.mu.Unlock()
	return nil
}

// Handler exposes the session's handler for this link.
func (l *MockLink) Handler() device.LinkHandler {
	return l.handler
}

// Connected fires the "link up" callback.
func (l *MockLink) Connected() {
	l.handler.OnConnectionStateChange(true, nil)
}

// Drop fires the "link down" callback.
func (l *MockLink) Drop(err error) {
	l.handler.OnConnectionStateChange(false, err)
}

// Discovered fires the service discovery callback.
func (l *MockLink) Discovered(services []device.Service, err error) {
	l.handler.OnServicesDiscovered(services, err)
}

// Ack fires the notification-enable acknowledgement.
func (l *MockLink) Ack(charID string, err error) {
	l.handler.OnNotificationsEnabled(charID, err)
}

// Notify fires a characteristic value change.
func (l *MockLink) Notify(charID string, value []byte) {
	l.handler.OnCharacteristicChanged(charID, value)
}

// CloseCount returns how many times Close was called.
func (l *MockLink) CloseCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// DiscoverCount returns how many times DiscoverServices was called.
func (l *MockLink) DiscoverCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.discovers
}

// EnabledCharacteristics returns the characteristic ids passed to EnableNotifications.
func (l *MockLink) EnabledCharacteristics() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.enabled...)
}

// NotifyService builds a service with one notify-capable characteristic.
func NotifyService(serviceUUID, charUUID string) device.Service {
	return device.Service{
		UUID: device.NormalizeUUID(serviceUUID),
		Characteristics: []device.Characteristic{{
			ID:         device.CharacteristicID(serviceUUID, charUUID),
			UUID:       device.NormalizeUUID(charUUID),
			Properties: device.PropRead | device.PropNotify,
		}},
	}
}

// Record builds a PeripheralRecord stamped with the current time.
func Record(id, name string) device.PeripheralRecord {
	return device.PeripheralRecord{ID: id, Name: name, RSSI: -60, LastSeen: time.Now()}
}
