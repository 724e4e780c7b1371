//go:build test

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/session"
	"github.com/srg/blelink/internal/testutils"
)

var printerTime = time.Date(2025, 1, 2, 15, 4, 5, 123_000_000, time.UTC)

func printerEvents() []session.Event {
	lock := device.PeripheralRecord{ID: "AA:01", Name: "QualiaLock", RSSI: -60, LastSeen: printerTime}
	return []session.Event{
		{Kind: session.EventCandidate, At: printerTime, Peripheral: lock},
		{Kind: session.EventState, At: printerTime, Peripheral: lock, State: session.Connecting},
		{Kind: session.EventConnection, At: printerTime, Peripheral: lock, Connected: true},
		{Kind: session.EventData, At: printerTime, Peripheral: lock, Message: session.InboundMessage{Characteristic: "c", Text: "up"}},
		{Kind: session.EventConnection, At: printerTime, Peripheral: lock, Reason: session.ReasonRemote, Err: device.ErrNotConnected},
		{Kind: session.EventError, At: printerTime, Err: &session.SessionError{Kind: session.UnknownPeripheral, Peripheral: "AA:09"}},
	}
}

func TestEventPrinter_Text(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	p := newEventPrinter(&buf, formatText, false)
	for _, ev := range printerEvents() {
		require.NoError(t, p.Print(ev))
	}

	testutils.NewTextAsserter(t).WithOptions(testutils.WithTrimSpace(true)).Assert(buf.String(), `
15:04:05.123 + QualiaLock AA:01 rssi=-60
15:04:05.123 connected QualiaLock (AA:01)
15:04:05.123 QualiaLock: up
15:04:05.123 disconnected QualiaLock (AA:01) (remote): not_connected
15:04:05.123 error unknown_peripheral [AA:09]
`)
}

func TestEventPrinter_TextWithStates(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	p := newEventPrinter(&buf, formatText, true)
	require.NoError(t, p.Print(printerEvents()[1]))
	assert.Equal(t, "15:04:05.123 state connecting AA:01\n", buf.String())
}

func TestEventPrinter_JSON(t *testing.T) {
	// GOAL: Verify every event kind maps onto its JSON line fields
	//
	// TEST SCENARIO: Print each event as JSON → one line per event → kind specific fields set, others omitted

	var buf bytes.Buffer
	p := newEventPrinter(&buf, formatJSON, true)
	for _, ev := range printerEvents() {
		require.NoError(t, p.Print(ev))
	}

	testutils.NewJSONAsserter(t).AssertLines(buf.String(),
		`{"type":"candidate","at":"<<PRESENCE>>","peripheral":{"id":"AA:01","name":"QualiaLock","rssi":-60}}`,
		`{"type":"state","state":"connecting"}`,
		`{"type":"connection","connected":true}`,
		`{"type":"data","characteristic":"c","text":"up"}`,
		`{"type":"connection","connected":false,"reason":"remote","error":"not_connected"}`,
		`{"type":"error","error_kind":"unknown_peripheral","error":"unknown_peripheral [AA:09]"}`,
	)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 6)
	assert.NotContains(t, string(lines[2]), "reason", "connected events MUST NOT carry a reason")
	assert.NotContains(t, string(lines[5]), "peripheral\":", "errors without a peripheral MUST omit it")
}

func TestEventPrinter_Journal(t *testing.T) {
	color.NoColor = true
	entries := []session.Transition{
		{At: printerTime, Attempt: 1, Peripheral: "AA:01", From: session.Idle, To: session.Connecting},
		{At: printerTime, Attempt: 1, Peripheral: "AA:01", From: session.Connecting, To: session.ServiceDiscovery},
	}

	var buf bytes.Buffer
	require.NoError(t, newEventPrinter(&buf, formatText, false).PrintJournal(entries))
	testutils.NewTextAsserter(t).WithOptions(testutils.WithTrimSpace(true)).Assert(buf.String(), `
TIME          ATTEMPT  PERIPHERAL  FROM        TO
15:04:05.123  1        AA:01       idle        connecting
15:04:05.123  1        AA:01       connecting  service_discovery
`)

	buf.Reset()
	require.NoError(t, newEventPrinter(&buf, formatJSON, false).PrintJournal(nil))
	testutils.NewJSONAsserter(t).Assert(buf.String(), `{"type":"journal","transitions":[]}`)
}

func TestValidateFormat(t *testing.T) {
	assert.NoError(t, validateFormat("text"))
	assert.NoError(t, validateFormat("json"))
	assert.EqualError(t, validateFormat("table"), "invalid format 'table': must be one of [text json]")
}
