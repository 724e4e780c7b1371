package device

// Property is a bit set of GATT characteristic properties. Values match the
// Bluetooth Core specification (and go-ble's ble.Property).
type Property uint16

const (
	PropBroadcast   Property = 0x01
	PropRead        Property = 0x02
	PropWriteNR     Property = 0x04
	PropWrite       Property = 0x08
	PropNotify      Property = 0x10
	PropIndicate    Property = 0x20
	PropSignedWrite Property = 0x40
	PropExtended    Property = 0x80

	// PropUnknown marks a characteristic whose properties the backend cannot
	// report. Callers may still try to enable notifications on it.
	PropUnknown Property = 0x8000
)

// CanNotify reports whether the characteristic may push values to the central.
func (p Property) CanNotify() bool {
	return p&(PropNotify|PropIndicate|PropUnknown) != 0
}

func (p Property) String() string {
	if p&PropUnknown != 0 {
		return "unknown"
	}
	names := []struct {
		flag Property
		name string
	}{
		{PropBroadcast, "broadcast"},
		{PropRead, "read"},
		{PropWriteNR, "write-nr"},
		{PropWrite, "write"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
		{PropSignedWrite, "signed-write"},
		{PropExtended, "extended"},
	}
	out := ""
	for _, n := range names {
		if p&n.flag == 0 {
			continue
		}
		if out != "" {
			out += "|"
		}
		out += n.name
	}
	if out == "" {
		return "none"
	}
	return out
}

// Characteristic describes a discovered characteristic.
type Characteristic struct {
	ID         string // see CharacteristicID
	UUID       string
	Properties Property
}

// Service describes a discovered GATT service with its characteristics.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// ScanHandler receives scan callbacks. Backends call it from their own goroutines.
type ScanHandler interface {
	OnScanResult(rec PeripheralRecord)
	// OnScanFailed reports that a scan accepted by StartScan has stopped on its own.
	OnScanFailed(err error)
}

// LinkHandler receives per-connection callbacks. Backends never invoke it
// synchronously from within a Central or Link method.
type LinkHandler interface {
	// OnConnectionStateChange reports the link coming up (connected=true) or
	// going down. err is non-nil when the connect attempt failed.
	OnConnectionStateChange(connected bool, err error)
	OnServicesDiscovered(services []Service, err error)
	// OnNotificationsEnabled acknowledges an EnableNotifications request.
	OnNotificationsEnabled(charID string, err error)
	OnCharacteristicChanged(charID string, value []byte)
}

// Central is the platform BLE central role.
type Central interface {
	// StartScan begins scanning. An error means the platform rejected the
	// request and no scan is running.
	StartScan(h ScanHandler) error
	StopScan() error
	// Connect starts an asynchronous connect and returns the native handle
	// immediately. The outcome is reported through h.
	Connect(id string, h LinkHandler) (Link, error)
	// Close stops scanning and releases every live link.
	Close() error
}

// Link is a native connection handle.
type Link interface {
	ID() string
	// DiscoverServices enumerates services and characteristics; the result is
	// delivered through LinkHandler.OnServicesDiscovered.
	DiscoverServices() error
	// EnableNotifications writes EnableNotificationValue to the characteristic's
	// CCCD; the acknowledgement arrives through LinkHandler.OnNotificationsEnabled.
	EnableNotifications(charID string) error
	// Close disconnects and releases the handle. It is idempotent and does not
	// block on the platform; no callbacks are delivered for the link afterwards.
	Close() error
}
