package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blelink/internal/bluez"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/session"
)

// Command-level errors
var (
	// ErrConnectionLost means the peripheral went away while --exit-on-disconnect was set.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns an error chain into a one-line message with a hint
// where the cause is something the user can fix.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var hint string
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		hint = "turn Bluetooth on and try again"
	case errors.Is(err, bluez.ErrUnavailable):
		hint = "is bluetooth.service running?"
	case errors.Is(err, device.ErrUnsupported):
		hint = "try another --backend"
	case errors.Is(err, device.ErrScanActive):
		hint = "another program is scanning on this adapter"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, device.ErrTimeout):
		hint = "the peripheral did not answer in time; move closer or raise --timeout"
	case errors.Is(err, ErrConnectionLost):
		hint = "the peripheral disconnected"
	case session.KindOf(err) == session.UnknownPeripheral:
		hint = "run 'blelink scan' to see which peripherals are in range"
	}

	msg := strings.TrimSpace(err.Error())
	if hint == "" {
		return msg
	}
	return fmt.Sprintf("%s (%s)", msg, hint)
}
