package session

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/ringchan"
)

// ConnectionSession drives a single peripheral connection through
// Connecting → ServiceDiscovery → SubscribingNotifications → Ready and owns
// the native link. All methods run on the controller's loop goroutine.
//
// Every platform callback is tagged with the attempt it belongs to; callbacks
// for any attempt other than the live one are dropped, so nothing is delivered
// for a connection after its terminal disconnected event.
type ConnectionSession struct {
	central device.Central
	logger  *logrus.Logger
	opts    Options
	post    func(func()) error
	emit    func(Event)
	journal *Journal

	state    ConnectionState
	attempt  uint64
	target   device.PeripheralRecord
	link     device.Link
	timer    *time.Timer
	subs     []*NotificationSubscription
	awaiting int
	pending  *ringchan.RingChannel[InboundMessage]

	decodeErrors   uint64
	messages       uint64
	pendingDropped uint64
}

func newConnectionSession(central device.Central, opts Options, post func(func()) error, emit func(Event), journal *Journal, logger *logrus.Logger) *ConnectionSession {
	return &ConnectionSession{
		central: central,
		logger:  logger,
		opts:    opts,
		post:    post,
		emit:    emit,
		journal: journal,
		pending: ringchan.New[InboundMessage](max(opts.PendingNotifications, 1)),
	}
}

// State returns the current state.
func (cs *ConnectionSession) State() ConnectionState {
	return cs.state
}

// IsReady reports whether the connection is established and subscribed.
func (cs *ConnectionSession) IsReady() bool {
	return cs.state == Ready
}

// Connect starts a connection attempt to rec. A request for the current target
// is a no-op; a request for another target replaces the live attempt, or is
// rejected with AlreadyConnecting under PolicyReject while still in transition.
func (cs *ConnectionSession) Connect(rec device.PeripheralRecord) {
	if cs.state != Idle {
		if cs.target.ID == rec.ID {
			cs.logger.WithFields(logrus.Fields{
				"peripheral": rec.ID,
				"state":      cs.state,
			}).Debug("Connect to current target ignored")
			return
		}
		if cs.opts.ConnectPolicy == PolicyReject && cs.state.inTransition() {
			cs.logger.WithFields(logrus.Fields{
				"peripheral": rec.ID,
				"current":    cs.target.ID,
				"state":      cs.state,
			}).Warn("Connect rejected: another attempt is in progress")
			cs.emitError(newError(AlreadyConnecting, rec.ID, fmt.Errorf("connecting to %s", cs.target.ID)))
			return
		}
		cs.logger.WithFields(logrus.Fields{
			"peripheral": rec.ID,
			"replaced":   cs.target.ID,
		}).Info("Replacing connection attempt")
		cs.teardown(ReasonSuperseded, nil)
	}

	cs.attempt++
	cs.target = rec
	cs.setState(Connecting)

	cs.logger.WithFields(logrus.Fields{
		"peripheral": rec.ID,
		"attempt":    cs.attempt,
	}).Info("Connecting to peripheral...")

	link, err := cs.central.Connect(rec.ID, &linkHandler{session: cs, attempt: cs.attempt})
	if err != nil {
		cs.fail(ConnectFailed, err)
		return
	}
	cs.link = link

	if cs.opts.ConnectTimeout > 0 {
		attempt := cs.attempt
		cs.timer = time.AfterFunc(cs.opts.ConnectTimeout, func() {
			_ = cs.post(func() { cs.onTimeout(attempt) })
		})
	}
}

// Disconnect tears down the connection from any state. It is a no-op when Idle.
func (cs *ConnectionSession) Disconnect() {
	if cs.state == Idle {
		cs.logger.Debug("Disconnect while idle ignored")
		return
	}
	cs.teardown(ReasonRequested, nil)
}

// Subscriptions returns a copy of the live notification subscriptions.
func (cs *ConnectionSession) Subscriptions() []NotificationSubscription {
	out := make([]NotificationSubscription, 0, len(cs.subs))
	for _, s := range cs.subs {
		out = append(out, *s)
	}
	return out
}

func (cs *ConnectionSession) live(attempt uint64) bool {
	return attempt == cs.attempt && cs.state != Idle && cs.state != Disconnecting
}

func (cs *ConnectionSession) setState(s ConnectionState) {
	from := cs.state
	cs.state = s
	cs.journal.Record(Transition{
		At:         time.Now(),
		Attempt:    cs.attempt,
		Peripheral: cs.target.ID,
		From:       from,
		To:         s,
	})
	cs.logger.WithFields(logrus.Fields{
		"peripheral": cs.target.ID,
		"attempt":    cs.attempt,
		"from":       from,
		"to":         s,
	}).Debug("Connection state changed")
	cs.emit(Event{Kind: EventState, State: s, Peripheral: cs.target})
}

func (cs *ConnectionSession) emitError(err *SessionError) {
	cs.emit(Event{Kind: EventError, Peripheral: cs.target, Err: err})
}

// fail reports kind and ends the attempt.
func (cs *ConnectionSession) fail(kind ErrorKind, cause error) {
	cs.logger.WithFields(logrus.Fields{
		"peripheral": cs.target.ID,
		"attempt":    cs.attempt,
		"state":      cs.state,
		"error":      cause,
	}).Warn("Connection attempt failed")
	err := newError(kind, cs.target.ID, cause)
	cs.emitError(err)
	cs.teardown(ReasonFailed, err)
}

// teardown releases the link and subscriptions and emits the terminal
// disconnected event for the live attempt.
func (cs *ConnectionSession) teardown(reason DisconnectReason, cause error) {
	if cs.state == Idle {
		return
	}
	cs.setState(Disconnecting)

	if cs.timer != nil {
		cs.timer.Stop()
		cs.timer = nil
	}
	if cs.link != nil {
		if err := cs.link.Close(); err != nil {
			cs.logger.WithFields(logrus.Fields{
				"peripheral": cs.target.ID,
				"error":      err,
			}).Warn("Failed to close link")
		}
		cs.link = nil
	}
	cs.subs = nil
	cs.awaiting = 0
	if n := cs.pending.Discard(); n > 0 {
		cs.logger.WithField("count", n).Debug("Discarded pending notifications")
	}

	target := cs.target
	cs.setState(Idle)

	level := logrus.InfoLevel
	if reason == ReasonSuperseded {
		level = logrus.DebugLevel
	}
	cs.logger.WithFields(logrus.Fields{
		"peripheral": target.ID,
		"reason":     reason,
	}).Log(level, "Disconnected")

	cs.emit(Event{Kind: EventConnection, Connected: false, Reason: reason, Peripheral: target, Err: cause})
}

func (cs *ConnectionSession) onConnectionStateChange(attempt uint64, connected bool, err error) {
	if !cs.live(attempt) {
		cs.logger.WithFields(logrus.Fields{
			"attempt":   attempt,
			"connected": connected,
		}).Debug("Dropping stale connection callback")
		return
	}

	if connected {
		if err != nil || cs.state != Connecting {
			return
		}
		cs.setState(ServiceDiscovery)
		if derr := cs.link.DiscoverServices(); derr != nil {
			cs.fail(DiscoveryFailed, derr)
		}
		return
	}

	if err == nil {
		err = device.ErrNotConnected
	}
	if cs.state == Ready {
		cs.teardown(ReasonRemote, err)
		return
	}
	cs.fail(ConnectFailed, err)
}

func (cs *ConnectionSession) onServicesDiscovered(attempt uint64, services []device.Service, err error) {
	if !cs.live(attempt) || cs.state != ServiceDiscovery {
		return
	}
	if err != nil {
		cs.fail(DiscoveryFailed, err)
		return
	}

	for _, svc := range services {
		for _, ch := range svc.Characteristics {
			if !ch.Properties.CanNotify() {
				continue
			}
			cs.subs = append(cs.subs, &NotificationSubscription{
				CharacteristicID: ch.ID,
				Properties:       ch.Properties,
			})
		}
	}

	cs.logger.WithFields(logrus.Fields{
		"peripheral":    cs.target.ID,
		"services":      len(services),
		"subscriptions": len(cs.subs),
	}).Debug("Services discovered")

	if len(cs.subs) == 0 {
		cs.becomeReady()
		return
	}

	cs.setState(SubscribingNotifications)
	cs.awaiting = len(cs.subs)

	type rejected struct {
		sub *NotificationSubscription
		err error
	}
	var failed []rejected
	for _, sub := range cs.subs {
		if err := cs.link.EnableNotifications(sub.CharacteristicID); err != nil {
			failed = append(failed, rejected{sub, err})
		}
	}
	for _, f := range failed {
		if cs.state != SubscribingNotifications {
			return
		}
		cs.ack(f.sub, f.err)
	}
}

func (cs *ConnectionSession) onNotificationsEnabled(attempt uint64, charID string, err error) {
	if !cs.live(attempt) || cs.state != SubscribingNotifications {
		return
	}
	sub := cs.subscription(charID)
	if sub == nil || sub.acked {
		return
	}
	cs.ack(sub, err)
}

func (cs *ConnectionSession) ack(sub *NotificationSubscription, err error) {
	sub.acked = true
	sub.Enabled = err == nil

	if err != nil {
		fields := logrus.Fields{
			"peripheral":     cs.target.ID,
			"characteristic": sub.CharacteristicID,
			"error":          err,
		}
		if sub.Properties&device.PropUnknown != 0 {
			cs.logger.WithFields(fields).Debug("Characteristic does not support notifications")
		} else {
			cs.logger.WithFields(fields).Warn("Failed to enable notifications")
			cs.emitError(newError(SubscribeFailed, cs.target.ID, fmt.Errorf("%s: %w", sub.CharacteristicID, err)))
		}
	}

	cs.awaiting--
	if cs.awaiting == 0 {
		cs.becomeReady()
	}
}

func (cs *ConnectionSession) becomeReady() {
	if cs.timer != nil {
		cs.timer.Stop()
		cs.timer = nil
	}
	cs.setState(Ready)

	cs.logger.WithFields(logrus.Fields{
		"peripheral": cs.target.ID,
		"attempt":    cs.attempt,
	}).Info("Peripheral ready")
	cs.emit(Event{Kind: EventConnection, Connected: true, Peripheral: cs.target})

	for _, msg := range cs.pending.Drain() {
		cs.deliver(msg)
	}
}

func (cs *ConnectionSession) onCharacteristicChanged(attempt uint64, charID string, value []byte) {
	if !cs.live(attempt) {
		return
	}
	if cs.state != SubscribingNotifications && cs.state != Ready {
		return
	}
	// Values may race ahead of their enable acknowledgement and are kept; a
	// subscription whose enable failed delivers nothing.
	sub := cs.subscription(charID)
	if sub == nil || (sub.acked && !sub.Enabled) {
		cs.logger.WithField("characteristic", charID).Debug("Notification for unsubscribed characteristic dropped")
		return
	}

	text, err := decode(value)
	if err != nil {
		cs.decodeErrors++
		cs.logger.WithFields(logrus.Fields{
			"peripheral":     cs.target.ID,
			"characteristic": charID,
			"bytes":          len(value),
			"error":          err,
		}).Warn("Dropping undecodable notification")
		return
	}

	msg := InboundMessage{
		Peripheral:     cs.target.ID,
		Characteristic: charID,
		Raw:            append([]byte(nil), value...),
		Text:           text,
		ReceivedAt:     time.Now(),
	}

	if cs.state == SubscribingNotifications {
		if cs.pending.Send(msg) {
			cs.pendingDropped++
			cs.logger.Warn("Pending notification buffer full, oldest message dropped")
		}
		return
	}
	cs.deliver(msg)
}

func (cs *ConnectionSession) deliver(msg InboundMessage) {
	cs.messages++
	cs.emit(Event{Kind: EventData, Peripheral: cs.target, Message: msg})
}

func (cs *ConnectionSession) onTimeout(attempt uint64) {
	if !cs.live(attempt) || cs.state == Ready {
		return
	}
	cs.fail(ConnectFailed, fmt.Errorf("%w: not ready after %s", device.ErrTimeout, cs.opts.ConnectTimeout))
}

func (cs *ConnectionSession) subscription(charID string) *NotificationSubscription {
	for _, s := range cs.subs {
		if s.CharacteristicID == charID {
			return s
		}
	}
	return nil
}

var (
	errEmptyPayload = errors.New("empty payload")
	errInvalidUTF8  = errors.New("payload is not valid UTF-8")
)

func decode(value []byte) (string, error) {
	if len(value) == 0 {
		return "", newError(DecodeError, "", errEmptyPayload)
	}
	if !utf8.Valid(value) {
		return "", newError(DecodeError, "", errInvalidUTF8)
	}
	return string(value), nil
}

// linkHandler forwards platform link callbacks onto the loop, tagged with the
// attempt they belong to.
type linkHandler struct {
	session *ConnectionSession
	attempt uint64
}

func (h *linkHandler) OnConnectionStateChange(connected bool, err error) {
	_ = h.session.post(func() { h.session.onConnectionStateChange(h.attempt, connected, err) })
}

func (h *linkHandler) OnServicesDiscovered(services []device.Service, err error) {
	_ = h.session.post(func() { h.session.onServicesDiscovered(h.attempt, services, err) })
}

func (h *linkHandler) OnNotificationsEnabled(charID string, err error) {
	_ = h.session.post(func() { h.session.onNotificationsEnabled(h.attempt, charID, err) })
}

func (h *linkHandler) OnCharacteristicChanged(charID string, value []byte) {
	data := append([]byte(nil), value...)
	_ = h.session.post(func() { h.session.onCharacteristicChanged(h.attempt, charID, data) })
}
