//go:build test

package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/devicefactory"
	"github.com/srg/blelink/internal/testutils"
)

// Test peripheral identifiers for consistent mock identification
const (
	TestPeripheral1 = "AA:00:00:00:00:01"
	TestPeripheral2 = "AA:00:00:00:00:02"
)

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a polling test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// RunningCommand is a command executing on its own goroutine.
type RunningCommand struct {
	Stdout *syncBuffer
	Stderr *syncBuffer
	Cancel context.CancelFunc
	done   chan error
}

// CommandTestSuite extends MockCentralSuite with command testing utilities.
// Every command test suite should embed this instead of MockCentralSuite.
type CommandTestSuite struct {
	testutils.MockCentralSuite

	originalCentralFactory func(devicefactory.Backend, string, *logrus.Logger) (device.Central, error)
}

func (s *CommandTestSuite) SetupSuite() {
	s.MockCentralSuite.SetupSuite()
	color.NoColor = true
	s.originalCentralFactory = devicefactory.CentralFactory
}

func (s *CommandTestSuite) TearDownSuite() {
	devicefactory.CentralFactory = s.originalCentralFactory
}

// SetupTest isolates the config directory, resets every flag and routes the
// central factory to the suite's mock central.
func (s *CommandTestSuite) SetupTest() {
	s.T().Setenv("XDG_CONFIG_HOME", s.T().TempDir())
	resetFlags(rootCmd)

	s.MockCentralSuite.SetupTest()
	devicefactory.CentralFactory = func(devicefactory.Backend, string, *logrus.Logger) (device.Central, error) {
		return s.Central, nil
	}
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.CentralFactory = s.originalCentralFactory
	s.MockCentralSuite.TearDownTest()
}

// resetFlags restores every flag of cmd and its children to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// Start runs rootCmd with args on a goroutine. Cancel plays the role of Ctrl+C.
func (s *CommandTestSuite) Start(args ...string) *RunningCommand {
	ctx, cancel := context.WithCancel(context.Background())
	rc := &RunningCommand{
		Stdout: &syncBuffer{},
		Stderr: &syncBuffer{},
		Cancel: cancel,
		done:   make(chan error, 1),
	}
	s.T().Cleanup(cancel)

	rootCmd.SetOut(rc.Stdout)
	rootCmd.SetErr(rc.Stderr)
	rootCmd.SetArgs(args)
	// subcommands keep the context of their first run otherwise
	for _, c := range rootCmd.Commands() {
		c.SetContext(ctx)
	}

	go func() {
		rc.done <- rootCmd.ExecuteContext(ctx)
	}()
	return rc
}

// Wait returns the command's error, failing the test if it does not finish.
func (s *CommandTestSuite) Wait(rc *RunningCommand) error {
	select {
	case err := <-rc.done:
		return err
	case <-time.After(s.TestTimeout):
		s.FailNow("command MUST finish in time", "stdout:\n%s\nstderr:\n%s", rc.Stdout.String(), rc.Stderr.String())
		return nil
	}
}

// Execute runs rootCmd to completion.
func (s *CommandTestSuite) Execute(args ...string) (string, error) {
	rc := s.Start(args...)
	err := s.Wait(rc)
	return rc.Stdout.String(), err
}

// WaitForScan blocks until the command has started n scans.
func (s *CommandTestSuite) WaitForScan(n int) {
	s.Eventually(func() bool { return s.Central.ScanStarts() >= n }, "scan MUST be started")
}

// WaitForOutput blocks until the command's stdout contains substr.
func (s *CommandTestSuite) WaitForOutput(rc *RunningCommand, substr string) {
	s.Require().Eventually(func() bool {
		return strings.Contains(rc.Stdout.String(), substr)
	}, s.TestTimeout, 5*time.Millisecond, "stdout MUST contain %q", substr)
}

// AutoLink makes every link connect, discover services and acknowledge
// subscriptions on its own.
func (s *CommandTestSuite) AutoLink(services ...device.Service) {
	s.Central.LinkSetup = func(l *testutils.MockLink) {
		l.AutoConnect = true
		l.AutoDiscover = true
		l.AutoAck = true
		l.Services = services
	}
}
