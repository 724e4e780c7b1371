package tinygo

import "github.com/srg/blelink/internal/device"

// newCharacteristic describes a discovered characteristic. tinygo does not
// expose GATT flags, so props comes from BlueZ over D-Bus; a characteristic
// missing from it (no bus, lookup failed) is reported as device.PropUnknown.
func newCharacteristic(serviceUUID, charUUID string, props map[string]device.Property) device.Characteristic {
	c := device.Characteristic{
		ID:         device.CharacteristicID(serviceUUID, charUUID),
		UUID:       device.NormalizeUUID(charUUID),
		Properties: device.PropUnknown,
	}
	if p, ok := props[c.ID]; ok {
		c.Properties = p
	}
	return c
}
