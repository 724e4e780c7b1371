// Package device defines the platform BLE seam used by the session core.
//
// A Central scans and opens connections; each connection is represented by a
// Link that is exclusively owned by whoever called Connect. Backends report
// everything asynchronously through ScanHandler and LinkHandler callbacks,
// always from their own goroutines.
//
// Backends live in sub-packages:
//   - goble: github.com/go-ble/ble (CoreBluetooth on macOS, raw HCI on Linux)
//   - tinygo: tinygo.org/x/bluetooth on Linux (BlueZ over D-Bus)
package device
