// Package bluez talks to the BlueZ daemon over the system D-Bus. It is used by
// the tinygo backend to check the adapter before scanning, to read GATT
// characteristic flags that tinygo does not expose, and to map BlueZ error
// names onto the device sentinels.
package bluez

import (
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/srg/blelink/internal/device"
)

const (
	busName      = "org.bluez"
	adapterIface = "org.bluez.Adapter1"
	deviceIface  = "org.bluez.Device1"
	propsIface   = "org.freedesktop.DBus.Properties"

	gattServiceIface   = "org.bluez.GattService1"
	gattCharIface      = "org.bluez.GattCharacteristic1"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
)

// ManagedObjects is the GetManagedObjects reply: path -> interface -> property -> value.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// ErrUnavailable means BlueZ is not reachable on the system bus.
var ErrUnavailable = errors.New("bluez unavailable")

// AdapterPath returns the object path of an adapter ("hci0" when empty).
func AdapterPath(adapter string) dbus.ObjectPath {
	if adapter == "" {
		adapter = "hci0"
	}
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// DevicePath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func DevicePath(adapter, addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(addr), ":", "_")
	return dbus.ObjectPath(string(AdapterPath(adapter)) + "/dev_" + escaped)
}

// Client wraps a system D-Bus connection for BlueZ queries.
type Client struct {
	conn    *dbus.Conn
	adapter string
}

// Open connects to the system bus and checks that BlueZ owns its name.
func Open(adapter string) (*Client, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connect to system bus: %v", ErrUnavailable, err)
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, fmt.Errorf("%w: list bus names: %v", ErrUnavailable, err)
	}
	for _, n := range names {
		if n == busName {
			return &Client{conn: conn, adapter: adapter}, nil
		}
	}
	return nil, fmt.Errorf("%w: org.bluez not found on system bus, is bluetooth.service running?", ErrUnavailable)
}

func (c *Client) getProp(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	var v dbus.Variant
	err := c.conn.Object(busName, path).Call(propsIface+".Get", 0, iface, prop).Store(&v)
	return v, err
}

// Powered reports the adapter's Powered property.
func (c *Client) Powered() (bool, error) {
	v, err := c.getProp(AdapterPath(c.adapter), adapterIface, "Powered")
	if err != nil {
		return false, NormalizeError(err)
	}
	return variantBool(v, "Powered")
}

// Alias returns the name BlueZ keeps for a known device. BlueZ falls back to
// the dashed address when it never saw a name; that case returns "".
func (c *Client) Alias(addr string) (string, error) {
	v, err := c.getProp(DevicePath(c.adapter, addr), deviceIface, "Alias")
	if err != nil {
		return "", NormalizeError(err)
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("property Alias is not string")
	}
	if strings.EqualFold(s, strings.ReplaceAll(addr, ":", "-")) {
		return "", nil
	}
	return s, nil
}

// Preflight fails with device.ErrBluetoothOff when the adapter is powered down.
func (c *Client) Preflight() error {
	on, err := c.Powered()
	if err != nil {
		return fmt.Errorf("adapter %s: %w", c.adapter, err)
	}
	if !on {
		return fmt.Errorf("%w: adapter %s is powered off", device.ErrBluetoothOff, c.adapter)
	}
	return nil
}

// CharacteristicProperties returns the properties of every characteristic
// BlueZ resolved for the device, keyed by device.CharacteristicID.
func (c *Client) CharacteristicProperties(addr string) (map[string]device.Property, error) {
	var objects ManagedObjects
	err := c.conn.Object(busName, "/").Call(objectManagerIface+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return nil, NormalizeError(err)
	}
	return CharacteristicProperties(objects, DevicePath(c.adapter, addr)), nil
}

// CharacteristicProperties extracts characteristic properties from the
// managed objects under devicePath.
func CharacteristicProperties(objects ManagedObjects, devicePath dbus.ObjectPath) map[string]device.Property {
	prefix := string(devicePath) + "/"

	services := map[dbus.ObjectPath]string{}
	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		if props, ok := ifaces[gattServiceIface]; ok {
			if uuid, ok := props["UUID"].Value().(string); ok {
				services[path] = uuid
			}
		}
	}

	out := map[string]device.Property{}
	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[gattCharIface]
		if !ok {
			continue
		}
		uuid, ok := props["UUID"].Value().(string)
		if !ok {
			continue
		}
		svcPath, ok := props["Service"].Value().(dbus.ObjectPath)
		if !ok {
			continue
		}
		svcUUID, ok := services[svcPath]
		if !ok {
			continue
		}
		flags, _ := props["Flags"].Value().([]string)
		out[device.CharacteristicID(svcUUID, uuid)] = ParseFlags(flags)
	}
	return out
}

// ParseFlags maps GattCharacteristic1.Flags onto device properties. Security
// flags such as "encrypt-read" have no property bit and are ignored.
func ParseFlags(flags []string) device.Property {
	var p device.Property
	for _, f := range flags {
		switch f {
		case "broadcast":
			p |= device.PropBroadcast
		case "read":
			p |= device.PropRead
		case "write-without-response":
			p |= device.PropWriteNR
		case "write":
			p |= device.PropWrite
		case "notify":
			p |= device.PropNotify
		case "indicate":
			p |= device.PropIndicate
		case "authenticated-signed-writes":
			p |= device.PropSignedWrite
		case "extended-properties":
			p |= device.PropExtended
		}
	}
	return p
}

func variantBool(v dbus.Variant, prop string) (bool, error) {
	val, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s is not bool", prop)
	}
	return val, nil
}

// NormalizeError maps BlueZ D-Bus error names to device sentinels, keeping
// the original error text.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	var derr dbus.Error
	if !errors.As(err, &derr) {
		var pderr *dbus.Error
		if !errors.As(err, &pderr) || pderr == nil {
			return err
		}
		derr = *pderr
	}

	switch derr.Name {
	case "org.bluez.Error.NotReady":
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case "org.bluez.Error.InProgress":
		return fmt.Errorf("%w: %v", device.ErrScanActive, err)
	case "org.bluez.Error.AlreadyConnected":
		return fmt.Errorf("%w: %v", device.ErrAlreadyConnected, err)
	case "org.bluez.Error.NotConnected":
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case "org.bluez.Error.NotSupported", "org.freedesktop.DBus.Error.UnknownMethod":
		return fmt.Errorf("%w: %v", device.ErrUnsupported, err)
	case "org.freedesktop.DBus.Error.NoReply", "org.freedesktop.DBus.Error.Timeout":
		return fmt.Errorf("%w: %v", device.ErrTimeout, err)
	case "org.freedesktop.DBus.Error.UnknownObject":
		return fmt.Errorf("%w: %v", device.ErrNotInitialized, err)
	}
	if derr.Name == "org.bluez.Error.Failed" && device.ContainsIgnoreCase(derr.Error(), "abort") {
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	}
	return err
}
