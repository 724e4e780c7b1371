//go:build test

package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	blelib "github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/testutils/mocks"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,notify"
	Value      []byte `json:"value,omitempty"`
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for mocking
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder builds a mocked go-ble host device that scans the
// configured advertisements and dials a single peripheral with the configured
// GATT profile. After Build, Notify and Drop drive the dialed client.
type PeripheralDeviceBuilder struct {
	t                  *testing.T
	profile            DeviceProfileConfig
	scanAdvertisements []blelib.Advertisement

	scanErr       error
	dialErr       error
	dialBlocks    bool
	discoverErr   error
	subscribeErrs map[string]error

	mu       sync.Mutex
	client   *mocks.MockClient
	handlers map[string]blelib.NotificationHandler
}

// NewPeripheralDeviceBuilder creates a new peripheral device builder
func NewPeripheralDeviceBuilder(t *testing.T) *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{
		t:             t,
		profile:       DeviceProfileConfig{Services: []ServiceConfig{}},
		subscribeErrs: map[string]error{},
		handlers:      map[string]blelib.NotificationHandler{},
	}
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{
		UUID:            uuid,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// FromJSON fills the device profile from JSON
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// WithScanAdvertisements returns an AdvertisementArrayBuilder that will return this PeripheralDeviceBuilder on Build()
func (b *PeripheralDeviceBuilder) WithScanAdvertisements() *AdvertisementArrayBuilder[*PeripheralDeviceBuilder] {
	arrayBuilder := NewAdvertisementArrayBuilder[*PeripheralDeviceBuilder]()
	arrayBuilder.parent = b
	arrayBuilder.buildFunc = func(parent *PeripheralDeviceBuilder, ads []blelib.Advertisement) *PeripheralDeviceBuilder {
		parent.scanAdvertisements = append(parent.scanAdvertisements, ads...)
		return parent
	}
	return arrayBuilder
}

// WithScanError makes Scan return err after delivering the advertisements.
func (b *PeripheralDeviceBuilder) WithScanError(err error) *PeripheralDeviceBuilder {
	b.scanErr = err
	return b
}

// WithDialError makes Dial fail with err.
func (b *PeripheralDeviceBuilder) WithDialError(err error) *PeripheralDeviceBuilder {
	b.dialErr = err
	return b
}

// WithBlockingDial makes Dial wait for its context to be cancelled.
func (b *PeripheralDeviceBuilder) WithBlockingDial() *PeripheralDeviceBuilder {
	b.dialBlocks = true
	return b
}

// WithDiscoverError makes DiscoverProfile fail with err.
func (b *PeripheralDeviceBuilder) WithDiscoverError(err error) *PeripheralDeviceBuilder {
	b.discoverErr = err
	return b
}

// WithSubscribeError makes Subscribe fail with err for the characteristic.
func (b *PeripheralDeviceBuilder) WithSubscribeError(charUUID string, err error) *PeripheralDeviceBuilder {
	b.subscribeErrs[device.NormalizeUUID(charUUID)] = err
	return b
}

// parseCharacteristicProperties converts a comma separated property list to ble.Property flags
func parseCharacteristicProperties(props string) blelib.Property {
	if props == "" {
		return blelib.CharRead | blelib.CharWrite | blelib.CharNotify
	}

	var property blelib.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "read":
			property |= blelib.CharRead
		case "write":
			property |= blelib.CharWrite
		case "write-nr":
			property |= blelib.CharWriteNR
		case "notify":
			property |= blelib.CharNotify
		case "indicate":
			property |= blelib.CharIndicate
		}
	}
	return property
}

// Build creates a mocked ble.Device with the configured profile
func (b *PeripheralDeviceBuilder) Build() *mocks.MockDevice {
	mockDevice := &mocks.MockDevice{}
	mockClient := mocks.NewMockClient()

	var bleServices []*blelib.Service
	for _, svcConfig := range b.profile.Services {
		bleService := &blelib.Service{UUID: blelib.MustParse(svcConfig.UUID)}
		for _, charConfig := range svcConfig.Characteristics {
			bleService.Characteristics = append(bleService.Characteristics, &blelib.Characteristic{
				UUID:     blelib.MustParse(charConfig.UUID),
				Property: parseCharacteristicProperties(charConfig.Properties),
				Value:    charConfig.Value,
			})
		}
		bleServices = append(bleServices, bleService)
	}
	mockProfile := &blelib.Profile{Services: bleServices}

	dial := mockDevice.On("Dial", mock.Anything, mock.Anything)
	switch {
	case b.dialErr != nil:
		dial.Return(nil, b.dialErr)
	case b.dialBlocks:
		dial.Return(nil, context.Canceled).Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		})
	default:
		dial.Return(mockClient, nil)
	}

	if b.discoverErr != nil {
		mockClient.On("DiscoverProfile", true).Return(nil, b.discoverErr)
	} else {
		mockClient.On("DiscoverProfile", true).Return(mockProfile, nil)
	}
	mockClient.On("ClearSubscriptions").Return(nil).Maybe()
	mockClient.On("CancelConnection").Return(nil).Maybe()

	for _, svc := range bleServices {
		for _, char := range svc.Characteristics {
			key := device.NormalizeUUID(char.UUID.String())
			mockClient.On("Subscribe", char, mock.Anything, mock.Anything).
				Return(b.subscribeErrs[key]).
				Run(func(args mock.Arguments) {
					if b.subscribeErrs[key] != nil {
						return
					}
					b.mu.Lock()
					b.handlers[key] = args.Get(2).(blelib.NotificationHandler)
					b.mu.Unlock()
				}).Maybe()
			mockClient.On("Unsubscribe", char, mock.Anything).Return(nil).Maybe()
		}
	}

	// Scan delivers the configured advertisements, then blocks like a real
	// scan until its context is cancelled.
	mockDevice.On("Scan", mock.Anything, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, _ bool, handler blelib.AdvHandler) error {
			for _, adv := range b.scanAdvertisements {
				handler(adv)
			}
			if b.scanErr != nil {
				return b.scanErr
			}
			<-ctx.Done()
			return ctx.Err()
		}).Maybe()

	b.mu.Lock()
	b.client = mockClient
	b.mu.Unlock()
	return mockDevice
}

// Client returns the client handed out by Dial.
func (b *PeripheralDeviceBuilder) Client() *mocks.MockClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client
}

// Notify pushes a value through the subscription of the characteristic.
// It reports false when nothing is subscribed to it.
func (b *PeripheralDeviceBuilder) Notify(charUUID string, value []byte) bool {
	b.mu.Lock()
	h := b.handlers[device.NormalizeUUID(charUUID)]
	b.mu.Unlock()
	if h == nil {
		return false
	}
	h(value)
	return true
}

// Drop simulates the peripheral disconnecting.
func (b *PeripheralDeviceBuilder) Drop() {
	if c := b.Client(); c != nil {
		c.Drop()
	}
}

// GetServices returns the configured services
func (b *PeripheralDeviceBuilder) GetServices() []ServiceConfig {
	return b.profile.Services
}
