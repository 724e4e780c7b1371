// Package tinygo implements device.Central on top of tinygo.org/x/bluetooth,
// which drives BlueZ over D-Bus on Linux. Unlike the go-ble backend it needs
// neither raw HCI access nor elevated privileges. tinygo does not expose
// characteristic properties, so they are read from BlueZ's GATT objects over
// D-Bus; when that fails, characteristics are reported with device.PropUnknown.
package tinygo
