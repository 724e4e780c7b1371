//go:build test

package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/testutils"
)

var batteryLevel = device.CharacteristicID("180f", "2a19")

type ConnectTestSuite struct {
	CommandTestSuite
}

func (s *ConnectTestSuite) TestConnectCmd_Help() {
	output, err := s.Execute("connect", "--help")
	s.Require().NoError(err, "help command MUST succeed")

	for _, flag := range []string{"--prefix", "--timeout", "--exit-on-disconnect", "--format", "--journal"} {
		s.Assert().Contains(output, flag, "help MUST document %s", flag)
	}
}

func (s *ConnectTestSuite) TestConnectCmd_TooManyArgs() {
	_, err := s.Execute("connect", TestPeripheral1, TestPeripheral2)
	s.Assert().Error(err, "two peripherals MUST be rejected")
}

func (s *ConnectTestSuite) TestConnectCmd_FirstCandidateToDisconnect() {
	// GOAL: Verify the full lifecycle of one connection in JSON output
	//
	// TEST SCENARIO: QualiaLock advertised → connected → "up" notified → data printed → peer drops → ErrConnectionLost

	s.AutoLink(testutils.NotifyService("180f", "2a19"))
	rc := s.Start("connect", "--format", "json", "--exit-on-disconnect")
	s.WaitForScan(1)

	s.Central.Advertise(testutils.Record(TestPeripheral1, "QualiaLock"))
	s.WaitForOutput(rc, `"connected":true`)
	s.Central.AssertCalled(s.T(), "StopScan")

	link := s.Central.LastLink()
	s.Require().NotNil(link, "connect MUST open a link")
	s.Assert().Equal([]string{batteryLevel}, link.EnabledCharacteristics(), "notify characteristic MUST be subscribed")

	link.Notify(batteryLevel, []byte("up"))
	s.WaitForOutput(rc, `"text":"up"`)

	link.Drop(device.ErrNotConnected)
	err := s.Wait(rc)
	s.Assert().ErrorIs(err, ErrConnectionLost, "peer disconnect MUST end the command with ErrConnectionLost")

	var data string
	for _, line := range strings.Split(rc.Stdout.String(), "\n") {
		if strings.Contains(line, `"type":"data"`) {
			data = line
		}
	}
	testutils.NewJSONAsserter(s.T()).Assert(data, `{
		"type": "data",
		"peripheral": {"id": "AA:00:00:00:00:01", "name": "QualiaLock"},
		"characteristic": "`+batteryLevel+`",
		"text": "up"
	}`)
}

func (s *ConnectTestSuite) TestConnectCmd_ExplicitTarget() {
	// GOAL: Verify an explicit ID is connected whatever its name and others are ignored
	//
	// TEST SCENARIO: connect AA..02 → QualiaLock (AA..01) and unnamed AA..02 advertised → only AA..02 linked

	s.AutoLink(testutils.NotifyService("180f", "2a19"))
	rc := s.Start("connect", TestPeripheral2)
	s.WaitForScan(1)

	s.Central.Advertise(
		testutils.Record(TestPeripheral1, "QualiaLock"),
		testutils.Record(TestPeripheral2, ""),
	)
	s.WaitForOutput(rc, "connected")

	rc.Cancel()
	s.Require().NoError(s.Wait(rc))

	links := s.Central.Links()
	s.Require().Len(links, 1, "exactly one connection MUST be attempted")
	s.Assert().Equal(TestPeripheral2, links[0].ID())
	s.Assert().NotContains(rc.Stdout.String(), "QualiaLock", "other candidates MUST NOT be printed")
	s.Assert().GreaterOrEqual(links[0].CloseCount(), 1, "Ctrl+C MUST release the link")
}

func (s *ConnectTestSuite) TestConnectCmd_ReconnectsAfterDrop() {
	// GOAL: Verify the command keeps going after a disconnect
	//
	// TEST SCENARIO: Connected → peer drops → scan restarts → same peripheral re-advertised → second link opened

	s.AutoLink(testutils.NotifyService("180f", "2a19"))
	rc := s.Start("connect")
	s.WaitForScan(1)

	s.Central.Advertise(testutils.Record(TestPeripheral1, "QualiaLock"))
	s.WaitForOutput(rc, "connected QualiaLock")

	s.Central.LastLink().Drop(device.ErrNotConnected)
	s.WaitForOutput(rc, "disconnected")
	s.WaitForScan(2)

	s.Central.Advertise(testutils.Record(TestPeripheral1, "QualiaLock"))
	s.Eventually(func() bool { return len(s.Central.Links()) == 2 }, "the peripheral MUST be connected again")

	rc.Cancel()
	s.Require().NoError(s.Wait(rc))
}

func (s *ConnectTestSuite) TestConnectCmd_ConnectFailure() {
	// GOAL: Verify a failed attempt ends the command when --exit-on-disconnect is set
	//
	// TEST SCENARIO: Central rejects Connect → ConnectFailed → terminal disconnect → command error names the cause

	s.Central = testutils.NewMockCentral()
	s.Central.On("Connect", mock.Anything, mock.Anything).Return(nil, errors.New("radio busy")).Once()
	s.Central.ExpectDefaults()

	rc := s.Start("connect", "--exit-on-disconnect")
	s.WaitForScan(1)
	s.Central.Advertise(testutils.Record(TestPeripheral1, "QualiaLock"))

	err := s.Wait(rc)
	s.Require().Error(err)
	s.Assert().Contains(err.Error(), "radio busy")
	s.Assert().Contains(rc.Stdout.String(), "error connect_failed")
}

func (s *ConnectTestSuite) TestConnectCmd_Journal() {
	// GOAL: Verify --journal prints the recorded transitions at exit
	//
	// TEST SCENARIO: Connect → Ready → drop → JSON journal line lists connecting ... ready ... idle

	s.AutoLink(testutils.NotifyService("180f", "2a19"))
	rc := s.Start("connect", "--format", "json", "--exit-on-disconnect", "--journal")
	s.WaitForScan(1)

	s.Central.Advertise(testutils.Record(TestPeripheral1, "QualiaLock"))
	s.WaitForOutput(rc, `"connected":true`)
	s.Central.LastLink().Drop(nil)
	s.Require().ErrorIs(s.Wait(rc), ErrConnectionLost)

	lines := strings.Split(strings.TrimSpace(rc.Stdout.String()), "\n")
	journal := lines[len(lines)-1]
	s.Assert().Contains(journal, `"type":"journal"`)
	s.Assert().Contains(journal, `"to":"connecting"`)
	s.Assert().Contains(journal, `"to":"ready"`)
	s.Assert().Contains(journal, `"to":"idle"`)
}

func TestConnectTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectTestSuite))
}
