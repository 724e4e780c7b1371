package goble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
)

// Link is a go-ble connection handle. Every platform call runs on its own
// goroutine and reports back through the LinkHandler; once Close is called no
// further callbacks are delivered.
type Link struct {
	id      string
	serial  uint64
	central *Central
	handler device.LinkHandler
	logger  *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once

	mu     sync.Mutex
	client ble.Client
	chars  map[string]*ble.Characteristic
}

var _ device.Link = (*Link)(nil)

func (l *Link) ID() string { return l.id }

func (l *Link) dial(ctx context.Context, dev hostDevice) {
	client, err := dev.Dial(ctx, ble.NewAddr(l.id))
	if err != nil {
		if l.closed.Load() {
			return
		}
		l.logger.WithFields(logrus.Fields{
			"address": l.id,
			"error":   err,
		}).Error("Failed to dial BLE device")
		l.handler.OnConnectionStateChange(false, fmt.Errorf("failed to connect to device with address %q: %w", l.id, NormalizeError(err)))
		return
	}

	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		l.release(client)
		return
	}
	l.client = client
	l.mu.Unlock()

	l.logger.WithField("address", l.id).Info("BLE device connected")
	l.handler.OnConnectionStateChange(true, nil)

	// go-ble closes Disconnected() when the platform drops the link
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(ctx, "ble-connection-monitor", func(monitorCtx context.Context) {
			select {
			case <-dc.Disconnected():
				if l.closed.Load() {
					return
				}
				l.logger.WithField("address", l.id).Warn("Peripheral reported disconnection")
				l.handler.OnConnectionStateChange(false, device.ErrNotConnected)
			case <-monitorCtx.Done():
			}
		})
	} else {
		l.logger.Debug("Client does not support Disconnected() channel")
	}
}

func (l *Link) connectedClient() (ble.Client, error) {
	if l.closed.Load() {
		return nil, device.ErrNotConnected
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client == nil {
		return nil, device.ErrNotConnected
	}
	return l.client, nil
}

// DiscoverServices runs a full profile discovery, descriptors included, so the
// CCCD of every characteristic is known before subscribing.
func (l *Link) DiscoverServices() error {
	client, err := l.connectedClient()
	if err != nil {
		return err
	}

	groutine.Go(l.ctx, "ble-discover", func(ctx context.Context) {
		profile, err := client.DiscoverProfile(true)
		if l.closed.Load() {
			return
		}
		if err != nil {
			l.logger.WithFields(logrus.Fields{
				"address": l.id,
				"error":   err,
			}).Error("Failed to discover profile")
			l.handler.OnServicesDiscovered(nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err)))
			return
		}

		services, chars := convertProfile(profile)
		l.mu.Lock()
		l.chars = chars
		l.mu.Unlock()

		l.logger.WithFields(logrus.Fields{
			"address":         l.id,
			"services":        len(services),
			"characteristics": len(chars),
		}).Debug("Profile discovered successfully")
		l.handler.OnServicesDiscovered(services, nil)
	})
	return nil
}

// EnableNotifications subscribes to the characteristic. go-ble writes the CCCD
// itself; indications are used when the characteristic cannot notify.
func (l *Link) EnableNotifications(charID string) error {
	client, err := l.connectedClient()
	if err != nil {
		return err
	}

	l.mu.Lock()
	char, ok := l.chars[charID]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("characteristic %s not found", charID)
	}

	ind := char.Property&ble.CharNotify == 0 && char.Property&ble.CharIndicate != 0
	groutine.Go(l.ctx, "ble-subscribe", func(ctx context.Context) {
		err := client.Subscribe(char, ind, func(data []byte) {
			if l.closed.Load() {
				return
			}
			value := make([]byte, len(data))
			copy(value, data)
			l.handler.OnCharacteristicChanged(charID, value)
		})
		if l.closed.Load() {
			return
		}
		if err != nil {
			l.logger.WithFields(logrus.Fields{
				"characteristic": charID,
				"error":          err,
			}).Warn("Failed to subscribe")
		}
		l.handler.OnNotificationsEnabled(charID, NormalizeError(err))
	})
	return nil
}

// Close disconnects without waiting for the platform.
func (l *Link) Close() error {
	l.once.Do(func() {
		l.closed.Store(true)
		l.cancel()
		l.central.links.Del(l.serial)

		l.mu.Lock()
		client := l.client
		l.client = nil
		l.mu.Unlock()

		if client != nil {
			l.release(client)
		}
	})
	return nil
}

func (l *Link) release(client ble.Client) {
	groutine.Go(context.Background(), "ble-disconnect", func(context.Context) {
		if err := client.ClearSubscriptions(); err != nil {
			l.logger.WithField("error", err).Debug("Failed to clear subscriptions")
		}
		if err := client.CancelConnection(); err != nil {
			l.logger.WithFields(logrus.Fields{
				"address": l.id,
				"error":   NormalizeError(err),
			}).Warn("Failed to cancel connection")
			return
		}
		l.logger.WithField("address", l.id).Debug("Connection released")
	})
}

func convertProfile(profile *ble.Profile) ([]device.Service, map[string]*ble.Characteristic) {
	chars := map[string]*ble.Characteristic{}
	if profile == nil {
		return nil, chars
	}

	services := make([]device.Service, 0, len(profile.Services))
	for _, bleSvc := range profile.Services {
		svc := device.Service{UUID: device.NormalizeUUID(bleSvc.UUID.String())}
		for _, bleChar := range bleSvc.Characteristics {
			id := device.CharacteristicID(bleSvc.UUID.String(), bleChar.UUID.String())
			svc.Characteristics = append(svc.Characteristics, device.Characteristic{
				ID:         id,
				UUID:       device.NormalizeUUID(bleChar.UUID.String()),
				Properties: device.Property(bleChar.Property),
			})
			chars[id] = bleChar
		}
		services = append(services, svc)
	}
	return services, chars
}
