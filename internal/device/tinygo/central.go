//go:build linux

package tinygo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/blelink/internal/bluez"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
)

// Central implements device.Central on a BlueZ adapter.
type Central struct {
	name    string
	adapter *bluetooth.Adapter
	logger  *logrus.Logger
	names   *nameCache

	enableOnce sync.Once
	enableErr  error
	bus        *bluez.Client

	mu       sync.Mutex
	scanning bool
	scanRun  uint64
	closed   bool

	serial atomic.Uint64
	links  *hashmap.Map[uint64, *Link]
}

var _ device.Central = (*Central)(nil)

// NewCentral creates a central for the BlueZ adapter (e.g. "hci0").
func NewCentral(adapter string, logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	if adapter == "" {
		adapter = "hci0"
	}
	c := &Central{
		name:    adapter,
		adapter: bluetooth.NewAdapter(adapter),
		logger:  logger,
		links:   hashmap.New[uint64, *Link](),
	}
	c.names = newNameCache(c.alias)
	return c
}

// enable checks the adapter over D-Bus and powers up the tinygo stack once.
// A BlueZ that cannot be queried is not fatal here; Enable reports it.
func (c *Central) enable() error {
	c.enableOnce.Do(func() {
		bus, err := bluez.Open(c.name)
		if err != nil {
			c.logger.WithField("error", err).Debug("BlueZ preflight skipped")
		} else {
			c.bus = bus
			if err := bus.Preflight(); err != nil {
				c.enableErr = err
				return
			}
		}

		if err := c.adapter.Enable(); err != nil {
			c.enableErr = fmt.Errorf("failed to enable adapter %s: %w", c.name, bluez.NormalizeError(err))
			return
		}
		c.adapter.SetConnectHandler(c.onConnectEvent)
		c.logger.WithField("adapter", c.name).Debug("Adapter enabled")
	})
	return c.enableErr
}

func (c *Central) alias(addr string) (string, error) {
	if c.bus == nil {
		return "", bluez.ErrUnavailable
	}
	return c.bus.Alias(addr)
}

// characteristicProperties reads GATT flags for addr. It returns nil when BlueZ
// cannot be queried, leaving every characteristic as device.PropUnknown.
func (c *Central) characteristicProperties(addr string) map[string]device.Property {
	if c.bus == nil {
		return nil
	}
	props, err := c.bus.CharacteristicProperties(addr)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": addr,
			"error":   err,
		}).Warn("Failed to read characteristic flags, subscribing to every characteristic")
		return nil
	}
	return props
}

// StartScan starts a BlueZ discovery. tinygo's Scan blocks until StopScan, so
// it runs on its own goroutine and an early return is a scan failure.
func (c *Central) StartScan(h device.ScanHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: central is closed", device.ErrNotInitialized)
	}
	if c.scanning {
		return device.ErrScanActive
	}
	if err := c.enable(); err != nil {
		return err
	}

	c.scanning = true
	c.scanRun++
	run := c.scanRun

	groutine.Go(context.Background(), "tinygo-scan", func(context.Context) {
		err := c.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !c.isCurrentScan(run) {
				return
			}
			addr := result.Address.String()
			h.OnScanResult(device.PeripheralRecord{
				ID:       addr,
				Name:     c.names.resolve(addr, result.LocalName()),
				RSSI:     int(result.RSSI),
				LastSeen: time.Now(),
			})
		})

		c.mu.Lock()
		current := c.scanning && c.scanRun == run
		if current {
			c.scanning = false
		}
		c.mu.Unlock()
		if !current {
			c.logger.Debug("Scan stopped")
			return
		}

		if err == nil {
			err = errors.New("scan ended unexpectedly")
		}
		c.logger.WithField("error", err).Warn("Scan failed")
		h.OnScanFailed(bluez.NormalizeError(err))
	})
	return nil
}

func (c *Central) isCurrentScan(run uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanning && c.scanRun == run
}

// StopScan stops the running discovery.
func (c *Central) StopScan() error {
	c.mu.Lock()
	if !c.scanning {
		c.mu.Unlock()
		return nil
	}
	c.scanning = false
	c.mu.Unlock()

	if err := c.adapter.StopScan(); err != nil {
		return bluez.NormalizeError(err)
	}
	return nil
}

// Connect connects to id in the background. BlueZ applies its own connect
// timeout; closing the link before it completes disconnects as soon as the
// connection is up.
func (c *Central) Connect(id string, h device.LinkHandler) (device.Link, error) {
	var addr bluetooth.Address
	addr.Set(id)
	if addr.String() == "00:00:00:00:00:00" {
		return nil, fmt.Errorf("invalid address %q", id)
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: central is closed", device.ErrNotInitialized)
	}
	if err := c.enable(); err != nil {
		return nil, err
	}

	link := &Link{
		id:      id,
		serial:  c.serial.Add(1),
		central: c,
		handler: h,
		logger:  c.logger,
		chars:   map[string]bluetooth.DeviceCharacteristic{},
	}
	c.links.Set(link.serial, link)

	c.logger.WithField("address", id).Info("Connecting to BLE device...")
	groutine.Go(context.Background(), "tinygo-connect", func(context.Context) {
		link.connect(addr)
	})
	return link, nil
}

// onConnectEvent routes BlueZ connection changes to the live link for the address.
func (c *Central) onConnectEvent(dev bluetooth.Device, connected bool) {
	if connected {
		return
	}
	addr := dev.Address.String()
	c.links.Range(func(_ uint64, l *Link) bool {
		if strings.EqualFold(l.id, addr) {
			l.onDropped()
		}
		return true
	})
}

// LiveLinks reports how many links have not been closed yet.
func (c *Central) LiveLinks() int {
	return c.links.Len()
}

// Close stops scanning and closes every live link.
func (c *Central) Close() error {
	_ = c.StopScan()

	var live []*Link
	c.links.Range(func(_ uint64, l *Link) bool {
		live = append(live, l)
		return true
	})
	for _, l := range live {
		_ = l.Close()
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
