//go:build linux

package tinygo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/blelink/internal/bluez"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
)

// Link is a BlueZ connection handle.
type Link struct {
	id      string
	serial  uint64
	central *Central
	handler device.LinkHandler
	logger  *logrus.Logger

	closed  atomic.Bool
	once    sync.Once
	dropped atomic.Bool

	mu    sync.Mutex
	dev   *bluetooth.Device
	chars map[string]bluetooth.DeviceCharacteristic
}

var _ device.Link = (*Link)(nil)

func (l *Link) ID() string { return l.id }

func (l *Link) connect(addr bluetooth.Address) {
	dev, err := l.central.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		if l.closed.Load() {
			return
		}
		l.logger.WithFields(logrus.Fields{
			"address": l.id,
			"error":   err,
		}).Error("Failed to connect")
		l.handler.OnConnectionStateChange(false, fmt.Errorf("failed to connect to device with address %q: %w", l.id, bluez.NormalizeError(err)))
		return
	}

	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		l.release(&dev)
		return
	}
	l.dev = &dev
	l.mu.Unlock()

	l.logger.WithField("address", l.id).Info("BLE device connected")
	l.handler.OnConnectionStateChange(true, nil)
}

func (l *Link) onDropped() {
	l.mu.Lock()
	up := l.dev != nil
	l.mu.Unlock()
	if !up || l.closed.Load() || !l.dropped.CompareAndSwap(false, true) {
		return
	}
	l.logger.WithField("address", l.id).Warn("Peripheral reported disconnection")
	l.handler.OnConnectionStateChange(false, device.ErrNotConnected)
}

func (l *Link) connectedDevice() (*bluetooth.Device, error) {
	if l.closed.Load() {
		return nil, device.ErrNotConnected
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dev == nil {
		return nil, device.ErrNotConnected
	}
	return l.dev, nil
}

// DiscoverServices enumerates every service and characteristic.
func (l *Link) DiscoverServices() error {
	dev, err := l.connectedDevice()
	if err != nil {
		return err
	}

	groutine.Go(context.Background(), "tinygo-discover", func(context.Context) {
		services, chars, err := discover(dev, l.central.characteristicProperties)
		if l.closed.Load() {
			return
		}
		if err != nil {
			l.logger.WithFields(logrus.Fields{
				"address": l.id,
				"error":   err,
			}).Error("Failed to discover services")
			l.handler.OnServicesDiscovered(nil, err)
			return
		}

		l.mu.Lock()
		l.chars = chars
		l.mu.Unlock()
		l.handler.OnServicesDiscovered(services, nil)
	})
	return nil
}

func discover(dev *bluetooth.Device, lookup func(addr string) map[string]device.Property) ([]device.Service, map[string]bluetooth.DeviceCharacteristic, error) {
	svcs, err := dev.DiscoverServices(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to discover services: %w", bluez.NormalizeError(err))
	}
	// BlueZ has resolved the GATT tree by now
	props := lookup(dev.Address.String())

	chars := map[string]bluetooth.DeviceCharacteristic{}
	services := make([]device.Service, 0, len(svcs))
	for _, svc := range svcs {
		found, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to discover characteristics of %s: %w", svc.UUID().String(), bluez.NormalizeError(err))
		}

		out := device.Service{UUID: device.NormalizeUUID(svc.UUID().String())}
		for _, char := range found {
			c := newCharacteristic(svc.UUID().String(), char.UUID().String(), props)
			out.Characteristics = append(out.Characteristics, c)
			chars[c.ID] = char
		}
		services = append(services, out)
	}
	return services, chars, nil
}

// EnableNotifications asks BlueZ to start notifications (StartNotify), which
// writes the CCCD on the peripheral.
func (l *Link) EnableNotifications(charID string) error {
	if _, err := l.connectedDevice(); err != nil {
		return err
	}

	l.mu.Lock()
	char, ok := l.chars[charID]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("characteristic %s not found", charID)
	}

	groutine.Go(context.Background(), "tinygo-subscribe", func(context.Context) {
		err := char.EnableNotifications(func(buf []byte) {
			if l.closed.Load() {
				return
			}
			value := make([]byte, len(buf))
			copy(value, buf)
			l.handler.OnCharacteristicChanged(charID, value)
		})
		if l.closed.Load() {
			return
		}
		if err != nil {
			l.logger.WithFields(logrus.Fields{
				"characteristic": charID,
				"error":          err,
			}).Debug("Failed to enable notifications")
		}
		l.handler.OnNotificationsEnabled(charID, bluez.NormalizeError(err))
	})
	return nil
}

// Close disconnects without waiting for BlueZ.
func (l *Link) Close() error {
	l.once.Do(func() {
		l.closed.Store(true)
		l.central.links.Del(l.serial)

		l.mu.Lock()
		dev := l.dev
		l.dev = nil
		l.mu.Unlock()

		if dev != nil {
			l.release(dev)
		}
	})
	return nil
}

func (l *Link) release(dev *bluetooth.Device) {
	groutine.Go(context.Background(), "tinygo-disconnect", func(context.Context) {
		if err := dev.Disconnect(); err != nil {
			l.logger.WithFields(logrus.Fields{
				"address": l.id,
				"error":   bluez.NormalizeError(err),
			}).Warn("Failed to disconnect")
			return
		}
		l.logger.WithField("address", l.id).Debug("Connection released")
	})
}
