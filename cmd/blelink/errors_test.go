package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/blelink/internal/bluez"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/session"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), "boom"},
		{
			"bluetooth off",
			&session.SessionError{Kind: session.ScanStartFailed, Err: device.ErrBluetoothOff},
			"scan_start_failed: bluetooth is turned off (turn Bluetooth on and try again)",
		},
		{
			"bluez missing",
			fmt.Errorf("%w: org.bluez not found", bluez.ErrUnavailable),
			"bluez unavailable: org.bluez not found (is bluetooth.service running?)",
		},
		{
			"timeout",
			fmt.Errorf("connect: %w", context.DeadlineExceeded),
			"connect: context deadline exceeded (the peripheral did not answer in time; move closer or raise --timeout)",
		},
		{
			"connection lost",
			fmt.Errorf("%w: QualiaLock", ErrConnectionLost),
			"connection lost: QualiaLock (the peripheral disconnected)",
		},
		{
			"unknown peripheral",
			&session.SessionError{Kind: session.UnknownPeripheral, Peripheral: "AA:01"},
			"unknown_peripheral [AA:01] (run 'blelink scan' to see which peripherals are in range)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatUserError(tt.err))
		})
	}
}
