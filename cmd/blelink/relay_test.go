//go:build test

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/testutils"
)

type RelayTestSuite struct {
	CommandTestSuite
}

// readTTY collects everything written to the slave at path.
func (s *RelayTestSuite) readTTY(path string) func() string {
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NOCTTY, 0)
	s.Require().NoError(err, "PTY slave MUST be openable")

	var (
		mu  sync.Mutex
		buf strings.Builder
	)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		chunk := make([]byte, 256)
		for ctx.Err() == nil {
			n, err := f.Read(chunk)
			mu.Lock()
			buf.Write(chunk[:n])
			mu.Unlock()
			if err != nil {
				return
			}
		}
	}()
	s.T().Cleanup(func() {
		cancel()
		_ = f.Close()
	})

	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return buf.String()
	}
}

func (s *RelayTestSuite) TestRelayCmd_MessagesReachPTY() {
	// GOAL: Verify received messages are written newline terminated to the PTY
	//
	// TEST SCENARIO: relay --symlink → PTY path printed → connect → "up", "down" notified → slave reads "up\ndown\n" → symlink removed at exit

	link := filepath.Join(s.T().TempDir(), "qualia")
	s.AutoLink(testutils.NotifyService("180f", "2a19"))

	rc := s.Start("relay", "--symlink", link, "--exit-on-disconnect")
	s.WaitForOutput(rc, "Symlink: "+link)

	target, err := os.Readlink(link)
	s.Require().NoError(err, "symlink MUST exist while relaying")
	s.Assert().Contains(rc.Stdout.String(), "PTY: "+target)
	read := s.readTTY(link)

	s.WaitForScan(1)
	s.Central.Advertise(testutils.Record(TestPeripheral1, "QualiaLock"))
	s.WaitForOutput(rc, "connected QualiaLock")

	l := s.Central.LastLink()
	l.Notify(batteryLevel, []byte("up"))
	l.Notify(batteryLevel, []byte("down"))
	s.Eventually(func() bool { return read() == "up\ndown\n" }, "PTY MUST receive each message on its own line")

	l.Drop(device.ErrNotConnected)
	s.Assert().ErrorIs(s.Wait(rc), ErrConnectionLost)

	_, err = os.Lstat(link)
	s.Assert().True(os.IsNotExist(err), "symlink MUST be removed at exit")
}

func (s *RelayTestSuite) TestRelayCmd_InvalidBuffer() {
	_, err := s.Execute("relay", "--buffer", "0")
	s.Assert().ErrorContains(err, "invalid --buffer")
}

func TestRelayTestSuite(t *testing.T) {
	suite.Run(t, new(RelayTestSuite))
}
