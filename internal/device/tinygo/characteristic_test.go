package tinygo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/blelink/internal/device"
)

const (
	batteryService = "0000180f-0000-1000-8000-00805f9b34fb"
	batteryLevel   = "00002A19-0000-1000-8000-00805F9B34FB"
	uartService    = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	uartRX         = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
)

func TestNewCharacteristic_WithoutFlags(t *testing.T) {
	c := newCharacteristic(batteryService, batteryLevel, nil)

	assert.Equal(t, "180f/2a19", c.ID, "tinygo's 128-bit UUIDs MUST collapse to the short form")
	assert.Equal(t, "2a19", c.UUID)
	assert.Equal(t, device.PropUnknown, c.Properties)
	assert.True(t, c.Properties.CanNotify(), "characteristics without flags MUST still be subscribed")
}

func TestNewCharacteristic_WithFlags(t *testing.T) {
	// GOAL: Verify BlueZ flags decide which characteristics are notify-capable
	//
	// TEST SCENARIO: flags for battery level (read,notify) and UART RX (write) → RX is not notify-capable

	props := map[string]device.Property{
		"180f/2a19": device.PropRead | device.PropNotify,
	}
	props[device.CharacteristicID(uartService, uartRX)] = device.PropWrite | device.PropWriteNR

	battery := newCharacteristic(batteryService, batteryLevel, props)
	rx := newCharacteristic(uartService, uartRX, props)

	assert.True(t, battery.Properties.CanNotify())
	assert.False(t, rx.Properties.CanNotify(), "a write-only characteristic MUST NOT be subscribed")
	assert.Equal(t, device.PropWrite|device.PropWriteNR, rx.Properties)
}
