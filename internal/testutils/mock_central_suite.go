//go:build test

package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// MockCentralSuite provides a reusable test suite with a mock BLE central.
//
// Basic usage (permissive central, every call succeeds):
//
//	type ControllerSuite struct {
//	    testutils.MockCentralSuite
//	}
//
//	func TestControllerSuite(t *testing.T) {
//	    suite.Run(t, new(ControllerSuite))
//	}
//
// Custom expectations are registered before the parent SetupTest:
//
//	func (s *ControllerSuite) SetupTest() {
//	    s.WithCentral().On("StartScan", mock.Anything).Return(errors.New("radio off")).Once()
//	    s.MockCentralSuite.SetupTest() // Call parent last to apply defaults
//	}
type MockCentralSuite struct {
	suite.Suite

	Helper      *TestHelper
	Logger      *logrus.Logger
	TestTimeout time.Duration

	Central *MockCentral
}

// SetupSuite initializes helpers shared by every test of the suite.
func (s *MockCentralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second
	s.Logger.Debug("Suite setup completed")
}

// SetupTest installs permissive defaults on the central configured so far.
func (s *MockCentralSuite) SetupTest() {
	s.WithCentral().ExpectDefaults()
	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest drops the central so the next test starts clean.
func (s *MockCentralSuite) TearDownTest() {
	s.Central = nil
}

// WithCentral returns the central of the current test, creating it if needed.
func (s *MockCentralSuite) WithCentral() *MockCentral {
	if s.Central == nil {
		s.Central = NewMockCentral()
	}
	return s.Central
}

// Eventually waits for cond using the suite timeout.
func (s *MockCentralSuite) Eventually(cond func() bool, msg string) {
	s.Require().Eventually(cond, s.TestTimeout, 5*time.Millisecond, msg)
}
