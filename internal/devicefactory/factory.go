// Package devicefactory picks the platform BLE backend for the session core.
package devicefactory

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
	goble "github.com/srg/blelink/internal/device/go-ble"
)

// Backend names a device.Central implementation.
type Backend string

const (
	// Auto picks the platform default: BlueZ via tinygo on Linux, go-ble elsewhere.
	Auto   Backend = "auto"
	GoBLE  Backend = "goble"
	TinyGo Backend = "tinygo"
)

// ParseBackend validates a backend name; the empty string means Auto.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return Auto, nil
	case Auto, GoBLE, TinyGo:
		return b, nil
	default:
		return "", fmt.Errorf("unknown backend %q (want auto, goble or tinygo)", s)
	}
}

// Resolve replaces Auto with the platform default.
func (b Backend) Resolve() Backend {
	if b == Auto || b == "" {
		return defaultBackend
	}
	return b
}

// CentralFactory creates the central for a backend (can be overridden in tests)
var CentralFactory = func(backend Backend, adapter string, logger *logrus.Logger) (device.Central, error) {
	switch backend.Resolve() {
	case GoBLE:
		return goble.NewCentral(adapter, logger), nil
	case TinyGo:
		return newTinyGoCentral(adapter, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// NewCentral creates the central for the named backend and adapter.
func NewCentral(backend Backend, adapter string, logger *logrus.Logger) (device.Central, error) {
	logger.WithFields(logrus.Fields{
		"backend": backend.Resolve(),
		"adapter": adapter,
	}).Debug("Creating BLE central")
	return CentralFactory(backend, adapter, logger)
}
