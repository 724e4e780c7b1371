package session

import (
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blelink/internal/device"
)

// ScanSession owns the scanning flag and the ordered set of peripherals seen in
// the current scan epoch. All methods run on the controller's loop goroutine.
type ScanSession struct {
	central device.Central
	logger  *logrus.Logger
	post    func(func()) error

	onCandidate func(device.PeripheralRecord)
	onError     func(error)

	scanning   bool
	run        uint64 // bumped on every platform scan start
	epoch      uint64 // bumped on every reset
	discovered *orderedmap.OrderedMap[string, device.PeripheralRecord]
}

func newScanSession(central device.Central, post func(func()) error, logger *logrus.Logger) *ScanSession {
	return &ScanSession{
		central:     central,
		logger:      logger,
		post:        post,
		onCandidate: func(device.PeripheralRecord) {},
		onError:     func(error) {},
		discovered:  orderedmap.New[string, device.PeripheralRecord](),
	}
}

// Start begins a platform scan unless one is already running.
func (s *ScanSession) Start() {
	if s.scanning {
		s.logger.Debug("Scan already running, ignoring start")
		return
	}

	s.run++
	h := &scanHandler{session: s, run: s.run}
	if err := s.central.StartScan(h); err != nil {
		s.logger.WithField("error", err).Warn("Platform rejected scan start")
		s.onError(newError(ScanStartFailed, "", err))
		return
	}

	s.scanning = true
	s.logger.WithFields(logrus.Fields{
		"epoch":      s.epoch,
		"discovered": s.discovered.Len(),
	}).Debug("Scan started")
}

// Stop ends the platform scan if one is running.
func (s *ScanSession) Stop() {
	if !s.scanning {
		return
	}
	s.scanning = false
	if err := s.central.StopScan(); err != nil {
		s.logger.WithField("error", err).Warn("Failed to stop platform scan")
	}
	s.logger.Debug("Scan stopped")
}

// Reset clears the discovered set and opens a new scan epoch, so identifiers
// seen before are reported again. The scanning flag is left untouched.
func (s *ScanSession) Reset() {
	s.epoch++
	s.discovered = orderedmap.New[string, device.PeripheralRecord]()
	s.logger.WithField("epoch", s.epoch).Debug("Scan results cleared")
}

// OnDiscovered feeds a record into the current scan.
func (s *ScanSession) OnDiscovered(rec device.PeripheralRecord) {
	s.onDiscovered(s.run, rec)
}

func (s *ScanSession) onDiscovered(run uint64, rec device.PeripheralRecord) {
	if !s.scanning || run != s.run {
		return
	}
	if rec.ID == "" {
		return
	}
	if IsDuplicate(rec, s.has) {
		return
	}
	if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now()
	}

	s.discovered.Set(rec.ID, rec)
	s.logger.WithFields(logrus.Fields{
		"peripheral": rec.ID,
		"name":       rec.Name,
		"rssi":       rec.RSSI,
	}).Debug("Discovered peripheral")
	s.onCandidate(rec)
}

func (s *ScanSession) onScanFailed(run uint64, err error) {
	if !s.scanning || run != s.run {
		return
	}
	s.scanning = false
	s.logger.WithField("error", err).Warn("Platform scan failed")
	s.onError(newError(ScanStartFailed, "", err))
}

func (s *ScanSession) has(id string) bool {
	_, ok := s.discovered.Get(id)
	return ok
}

// Lookup returns the discovered record with the given identifier.
func (s *ScanSession) Lookup(id string) (device.PeripheralRecord, bool) {
	return s.discovered.Get(id)
}

// IsScanning reports whether a platform scan is running.
func (s *ScanSession) IsScanning() bool {
	return s.scanning
}

// Discovered returns a copy of the discovered set in discovery order.
func (s *ScanSession) Discovered() []device.PeripheralRecord {
	out := make([]device.PeripheralRecord, 0, s.discovered.Len())
	for pair := s.discovered.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// scanHandler forwards platform scan callbacks onto the loop, tagged with the
// scan run they belong to.
type scanHandler struct {
	session *ScanSession
	run     uint64
}

func (h *scanHandler) OnScanResult(rec device.PeripheralRecord) {
	_ = h.session.post(func() { h.session.onDiscovered(h.run, rec) })
}

func (h *scanHandler) OnScanFailed(err error) {
	_ = h.session.post(func() { h.session.onScanFailed(h.run, err) })
}
