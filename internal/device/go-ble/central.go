package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
)

// DeviceFactory creates the go-ble host device for the named adapter (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func(adapter string) (ble.Device, error) {
	return newPlatformDevice(adapter)
}

// hostDevice is the part of ble.Device the central drives.
type hostDevice interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
}

// Central implements device.Central on top of go-ble. The host device is
// created lazily on first use so a missing adapter surfaces as a scan or
// connect error rather than a constructor failure.
type Central struct {
	adapter string
	logger  *logrus.Logger

	mu         sync.Mutex
	dev        hostDevice
	scanCancel context.CancelFunc
	scanRun    uint64
	closed     bool

	serial atomic.Uint64
	links  *hashmap.Map[uint64, *Link]
}

var _ device.Central = (*Central)(nil)

// NewCentral creates a go-ble central for the adapter (e.g. "hci0"; ignored on macOS).
func NewCentral(adapter string, logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	return &Central{
		adapter: adapter,
		logger:  logger,
		links:   hashmap.New[uint64, *Link](),
	}
}

// hostLocked returns the host device, creating it on first use. c.mu must be held.
func (c *Central) hostLocked() (hostDevice, error) {
	if c.closed {
		return nil, fmt.Errorf("%w: central is closed", device.ErrNotInitialized)
	}
	if c.dev != nil {
		return c.dev, nil
	}
	dev, err := DeviceFactory(c.adapter)
	if err != nil {
		c.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	c.dev = dev
	return dev, nil
}

// StartScan starts a go-ble scan with duplicates allowed; deduplication is
// the caller's business. A scan that ends with anything other than its own
// cancellation is reported through h.OnScanFailed.
func (c *Central) StartScan(h device.ScanHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scanCancel != nil {
		return device.ErrScanActive
	}
	dev, err := c.hostLocked()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.scanCancel = cancel
	c.scanRun++
	run := c.scanRun

	handler := func(adv ble.Advertisement) {
		if ctx.Err() != nil {
			return
		}
		h.OnScanResult(advertisementRecord(adv))
	}

	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		err := dev.Scan(ctx, true, handler)
		if ctx.Err() != nil {
			c.logger.Debug("Scan stopped")
			return
		}

		c.mu.Lock()
		current := c.scanRun == run && c.scanCancel != nil
		if current {
			c.scanCancel = nil
		}
		c.mu.Unlock()
		cancel()
		if !current {
			return
		}

		if err == nil {
			err = errors.New("scan ended unexpectedly")
		}
		c.logger.WithField("error", err).Warn("Scan failed")
		h.OnScanFailed(NormalizeError(err))
	})

	c.logger.WithField("adapter", c.adapter).Debug("Scan started")
	return nil
}

// StopScan cancels the running scan. It does not wait for the platform.
func (c *Central) StopScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scanCancel == nil {
		return nil
	}
	c.scanCancel()
	c.scanCancel = nil
	return nil
}

// Connect dials id in the background. The returned link is registered until it
// is closed.
func (c *Central) Connect(id string, h device.LinkHandler) (device.Link, error) {
	if id == "" {
		return nil, errors.New("device address is empty")
	}

	c.mu.Lock()
	dev, err := c.hostLocked()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	link := &Link{
		id:      id,
		serial:  c.serial.Add(1),
		central: c,
		handler: h,
		logger:  c.logger,
		ctx:     ctx,
		cancel:  cancel,
		chars:   map[string]*ble.Characteristic{},
	}
	c.links.Set(link.serial, link)

	c.logger.WithField("address", id).Info("Connecting to BLE device...")
	groutine.Go(ctx, "ble-dial", func(ctx context.Context) {
		link.dial(ctx, dev)
	})
	return link, nil
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

func advertisementRecord(adv ble.Advertisement) device.PeripheralRecord {
	rec := device.PeripheralRecord{
		Name:     adv.LocalName(),
		RSSI:     adv.RSSI(),
		LastSeen: time.Now(),
	}
	if addr := adv.Addr(); addr != nil {
		rec.ID = addr.String()
	}
	return rec
}
