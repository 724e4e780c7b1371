//go:build linux

package goble

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

func newPlatformDevice(adapter string) (ble.Device, error) {
	id, err := AdapterIndex(adapter)
	if err != nil {
		return nil, err
	}
	dev, err := linux.NewDevice(ble.OptDeviceID(id))
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// AdapterIndex maps an HCI adapter name ("hci1", "1" or "") to its index.
func AdapterIndex(adapter string) (int, error) {
	name := strings.TrimPrefix(strings.TrimSpace(adapter), "hci")
	if name == "" {
		return 0, nil
	}
	id, err := strconv.Atoi(name)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid adapter %q: expected hciN", adapter)
	}
	return id, nil
}
