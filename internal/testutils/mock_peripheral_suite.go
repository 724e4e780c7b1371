//go:build test

package testutils

import (
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	goble "github.com/srg/blelink/internal/device/go-ble"
)

// MockBLEPeripheralSuite runs the go-ble backend against a mocked host device.
// The suite swaps goble.DeviceFactory before each test and restores it after.
//
// Custom device profile usage:
//
//	func (s *CentralSuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithService("180D").
//	        WithCharacteristic("2A37", "read,notify", []byte{80})
//
//	    s.MockBLEPeripheralSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockBLEPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	OriginalDeviceFactory func(adapter string) (blelib.Device, error)
	TestTimeout           time.Duration

	PeripheralBuilder *PeripheralDeviceBuilder
	// DeviceCreations counts DeviceFactory calls in the current test.
	DeviceCreations int
}

// SetupSuite initializes the test suite following testify/suite best practices.
func (s *MockBLEPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second
	s.OriginalDeviceFactory = goble.DeviceFactory

	s.T().Cleanup(func() {
		if s.OriginalDeviceFactory != nil {
			goble.DeviceFactory = s.OriginalDeviceFactory
		}
	})
}

// SetupTest installs the mocked device factory. A test that configured no
// peripheral gets a default one with a notifying Battery Level characteristic.
func (s *MockBLEPeripheralSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralDeviceBuilder(s.T()).FromJSON(`
		{
			"services": [
				{
					"uuid": "180F",
					"characteristics": [
						{ "uuid": "2A19", "properties": "read,notify", "value": [50] }
					]
				}
			]
		}`)
	}

	s.Install(s.PeripheralBuilder)
}

// Install builds b and serves it from goble.DeviceFactory. Tests that need a
// profile of their own call it before creating a central.
func (s *MockBLEPeripheralSuite) Install(b *PeripheralDeviceBuilder) *PeripheralDeviceBuilder {
	dev := b.Build()
	s.PeripheralBuilder = b
	s.DeviceCreations = 0
	goble.DeviceFactory = func(string) (blelib.Device, error) {
		s.DeviceCreations++
		return dev, nil
	}
	return b
}

// TearDownTest restores the device factory and resets the builder.
func (s *MockBLEPeripheralSuite) TearDownTest() {
	if s.OriginalDeviceFactory != nil {
		goble.DeviceFactory = s.OriginalDeviceFactory
	}
	s.PeripheralBuilder = nil
}

// WithPeripheral returns the peripheral builder for fluent configuration.
func (s *MockBLEPeripheralSuite) WithPeripheral() *PeripheralDeviceBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralDeviceBuilder(s.T())
	}
	return s.PeripheralBuilder
}

// Eventually waits for cond using the suite timeout.
func (s *MockBLEPeripheralSuite) Eventually(cond func() bool, msg string) {
	s.Require().Eventually(cond, s.TestTimeout, 5*time.Millisecond, msg)
}
