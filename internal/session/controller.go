package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
)

// Snapshot is an immutable copy of the controller state.
type Snapshot struct {
	Scanning       bool
	ScanEpoch      uint64
	Discovered     []device.PeripheralRecord
	State          ConnectionState
	Attempt        uint64
	Peripheral     device.PeripheralRecord
	Subscriptions  []NotificationSubscription
	Messages       uint64
	DecodeErrors   uint64
	PendingDropped uint64
}

// Controller composes a ScanSession and a ConnectionSession behind a single
// event loop. Public methods post requests to the loop and return at once;
// outcomes arrive on Events.
//
// Policy: a connection reaching Ready stops the scan; any disconnect other than
// a superseded attempt clears the scan results and scans again. Candidates are
// surfaced only when they pass the AdvertisementFilter.
type Controller struct {
	logger  *logrus.Logger
	opts    Options
	filter  AdvertisementFilter
	journal *Journal

	scan *ScanSession
	conn *ConnectionSession

	inbox   chan func()
	events  chan Event
	closeCh chan struct{}
	quit    chan struct{} // closed when the loop starts shutting down
	stopped chan struct{}

	// gate orders post against shutdown: once sealed, nothing enters inbox,
	// so every accepted request runs before teardown.
	gate   sync.RWMutex
	sealed bool

	started   atomic.Bool
	closeOnce sync.Once
	closing   bool // loop only
}

// NewController creates a controller for central. It does not touch the
// platform until Start.
func NewController(central device.Central, opts Options, logger *logrus.Logger) (*Controller, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}

	c := &Controller{
		logger:  logger,
		opts:    opts,
		filter:  AdvertisementFilter{Prefix: opts.NamePrefix, IgnoreCase: opts.IgnoreCase},
		journal: NewJournal(opts.JournalSize),
		inbox:   make(chan func(), opts.InboxSize),
		events:  make(chan Event, opts.EventBuffer),
		closeCh: make(chan struct{}),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	c.scan = newScanSession(central, c.post, logger)
	c.scan.onCandidate = c.onCandidate
	c.scan.onError = c.onScanError
	c.conn = newConnectionSession(central, opts, c.post, c.onConnectionEvent, c.journal, logger)
	return c, nil
}

// Start launches the event loop. Cancelling ctx has the same effect as Close.
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		select {
		case <-c.closeCh:
			return ErrClosed
		default:
			return nil
		}
	}
	groutine.Go(ctx, "session-loop", c.run)
	return nil
}

// Events returns the ordered event stream. It is meant for a single consumer
// and is closed once the controller has shut down.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// StartScan requests scanning. A rejected scan is reported as a ScanStartFailed event.
func (c *Controller) StartScan() error {
	return c.post(func() { c.scan.Start() })
}

// StopScan requests the scan to stop.
func (c *Controller) StopScan() error {
	return c.post(func() { c.scan.Stop() })
}

// Connect requests a connection to a previously discovered peripheral.
func (c *Controller) Connect(id string) error {
	return c.post(func() {
		rec, ok := c.scan.Lookup(id)
		if !ok {
			c.logger.WithField("peripheral", id).Warn("Connect to unknown peripheral")
			c.emit(Event{Kind: EventError, Peripheral: device.PeripheralRecord{ID: id}, Err: newError(UnknownPeripheral, id, nil)})
			return
		}
		c.conn.Connect(rec)
	})
}

// Disconnect requests the connection to be torn down. It is idempotent.
func (c *Controller) Disconnect() error {
	return c.post(func() { c.conn.Disconnect() })
}

// ResetScan clears the discovered set without touching the scanning flag.
func (c *Controller) ResetScan() error {
	return c.post(func() { c.scan.Reset() })
}

// Snapshot returns a consistent copy of the controller state, taken on the loop
// after every request posted before it.
func (c *Controller) Snapshot() (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := c.post(func() { reply <- c.snapshot() }); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-c.stopped:
		return Snapshot{}, ErrClosed
	}
}

// IsReady reports whether the connection is established and subscribed.
func (c *Controller) IsReady() bool {
	s, err := c.Snapshot()
	return err == nil && s.State == Ready
}

// Journal returns the buffered state transitions, oldest first, and clears them.
func (c *Controller) Journal() []Transition {
	return c.journal.Drain()
}

// Close disconnects, stops scanning, stops the loop and closes the event
// stream. Events that the consumer does not drain during shutdown are dropped.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		if c.started.CompareAndSwap(false, true) {
			c.seal()
			close(c.stopped)
			close(c.events)
		}
	})
	select {
	case <-c.stopped:
	case <-time.After(5 * time.Second):
		c.logger.Warn("Timed out waiting for session loop to stop")
	}
	return nil
}

// post queues fn for the loop. A nil return means fn will run.
func (c *Controller) post(fn func()) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	c.gate.RLock()
	defer c.gate.RUnlock()
	if c.sealed {
		return ErrClosed
	}
	select {
	case c.inbox <- fn:
		return nil
	case <-c.quit:
		return ErrClosed
	}
}

// seal stops post from accepting requests. Posters blocked on a full inbox
// are released through quit before the gate is taken.
func (c *Controller) seal() {
	close(c.quit)
	c.gate.Lock()
	c.sealed = true
	c.gate.Unlock()
}

func (c *Controller) run(ctx context.Context) {
	c.logger.Debug("Session loop started")

	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.closeCh:
			c.shutdown()
			return
		case <-ctx.Done():
			c.shutdown()
			return
		}
	}
}

func (c *Controller) shutdown() {
	c.seal()
	c.closing = true
	for drained := false; !drained; {
		select {
		case fn := <-c.inbox:
			fn()
		default:
			drained = true
		}
	}

	c.conn.Disconnect()
	c.scan.Stop()
	close(c.stopped)
	close(c.events)
	c.logger.Debug("Session loop stopped")
}

func (c *Controller) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if c.closing {
		select {
		case c.events <- ev:
		default:
			c.logger.WithField("kind", ev.Kind).Debug("Dropping event during shutdown")
		}
		return
	}
	select {
	case c.events <- ev:
	case <-c.closeCh:
		c.closing = true
		c.logger.WithField("kind", ev.Kind).Debug("Dropping event, controller closing")
	}
}

func (c *Controller) onCandidate(rec device.PeripheralRecord) {
	if !c.filter.Match(rec) {
		c.logger.WithFields(logrus.Fields{
			"peripheral": rec.ID,
			"name":       rec.Name,
			"prefix":     c.filter.Prefix,
		}).Debug("Peripheral filtered out")
		return
	}
	c.emit(Event{Kind: EventCandidate, Peripheral: rec})
}

func (c *Controller) onScanError(err error) {
	c.emit(Event{Kind: EventError, Err: err})
}

func (c *Controller) onConnectionEvent(ev Event) {
	c.emit(ev)
	if ev.Kind != EventConnection || c.closing {
		return
	}
	if ev.Connected {
		c.scan.Stop()
		return
	}
	if ev.Reason == ReasonSuperseded {
		return
	}
	c.scan.Reset()
	c.scan.Start()
}

func (c *Controller) snapshot() Snapshot {
	return Snapshot{
		Scanning:       c.scan.IsScanning(),
		ScanEpoch:      c.scan.epoch,
		Discovered:     c.scan.Discovered(),
		State:          c.conn.State(),
		Attempt:        c.conn.attempt,
		Peripheral:     c.conn.target,
		Subscriptions:  c.conn.Subscriptions(),
		Messages:       c.conn.messages,
		DecodeErrors:   c.conn.decodeErrors,
		PendingDropped: c.conn.pendingDropped,
	}
}
