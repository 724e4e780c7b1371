//go:build test

package session

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/testutils"
)

type scanHarness struct {
	central    *testutils.MockCentral
	scan       *ScanSession
	candidates []device.PeripheralRecord
	errs       []error
}

func newScanHarness(central *testutils.MockCentral) *scanHarness {
	h := &scanHarness{central: central}
	inline := func(fn func()) error { fn(); return nil }
	h.scan = newScanSession(central, inline, testutils.NewSilentLogger())
	h.scan.onCandidate = func(rec device.PeripheralRecord) { h.candidates = append(h.candidates, rec) }
	h.scan.onError = func(err error) { h.errs = append(h.errs, err) }
	return h
}

func (h *scanHarness) ids() []string {
	out := make([]string, 0, len(h.candidates))
	for _, c := range h.candidates {
		out = append(out, c.ID)
	}
	return out
}

func TestScanSessionStartStopIdempotent(t *testing.T) {
	central := testutils.NewMockCentral().ExpectDefaults()
	h := newScanHarness(central)

	h.scan.Start()
	h.scan.Start()
	assert.True(t, h.scan.IsScanning())
	central.AssertNumberOfCalls(t, "StartScan", 1)

	h.scan.Stop()
	h.scan.Stop()
	assert.False(t, h.scan.IsScanning())
	central.AssertNumberOfCalls(t, "StopScan", 1)
}

func TestScanSessionDeduplicatesPerEpoch(t *testing.T) {
	// GOAL: Verify at most one candidate per identifier per scan epoch for arbitrary sequences
	//
	// TEST SCENARIO: Random advertisement sequences with repeats → each id reported once → reset → ids reported again

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		central := testutils.NewMockCentral().ExpectDefaults()
		h := newScanHarness(central)
		h.scan.Start()

		unique := map[string]bool{}
		for i := 0; i < 100; i++ {
			id := fmt.Sprintf("AA:%02d", rng.Intn(10))
			unique[id] = true
			central.Advertise(device.PeripheralRecord{ID: id, Name: "Qualia" + id})
		}

		assert.Len(t, h.candidates, len(unique), "MUST emit exactly one candidate per unique id")
		seen := map[string]int{}
		for _, id := range h.ids() {
			seen[id]++
		}
		for id, n := range seen {
			assert.Equal(t, 1, n, "id %s MUST be emitted once per epoch", id)
		}

		h.candidates = nil
		h.scan.Reset()
		assert.True(t, h.scan.IsScanning(), "reset MUST NOT change the scanning flag")
		assert.Empty(t, h.scan.Discovered())

		for id := range unique {
			central.Advertise(device.PeripheralRecord{ID: id})
		}
		assert.Len(t, h.candidates, len(unique), "reset MUST allow re-emission")
	}
}

func TestScanSessionKeepsDiscoveryOrder(t *testing.T) {
	central := testutils.NewMockCentral().ExpectDefaults()
	h := newScanHarness(central)
	h.scan.Start()

	central.Advertise(
		testutils.Record("AA:03", "C"),
		testutils.Record("AA:01", "A"),
		testutils.Record("AA:03", "C again"),
		testutils.Record("AA:02", "B"),
	)

	discovered := h.scan.Discovered()
	require.Len(t, discovered, 3)
	assert.Equal(t, []string{"AA:03", "AA:01", "AA:02"}, []string{discovered[0].ID, discovered[1].ID, discovered[2].ID})
	assert.Equal(t, "C", discovered[0].Name, "records MUST be immutable once stored")

	rec, ok := h.scan.Lookup("AA:01")
	require.True(t, ok)
	assert.Equal(t, "A", rec.Name)
	_, ok = h.scan.Lookup("ZZ:99")
	assert.False(t, ok)
}

func TestScanSessionIgnoresResultsWhenNotScanning(t *testing.T) {
	central := testutils.NewMockCentral().ExpectDefaults()
	h := newScanHarness(central)

	h.scan.OnDiscovered(testutils.Record("AA:01", "QualiaLock"))
	assert.Empty(t, h.candidates, "results before start MUST be dropped")

	h.scan.Start()
	stale := central.ScanHandler()
	h.scan.Stop()
	stale.OnScanResult(testutils.Record("AA:01", "QualiaLock"))
	assert.Empty(t, h.candidates, "results after stop MUST be dropped")

	h.scan.Start()
	stale.OnScanResult(testutils.Record("AA:02", "QualiaLock"))
	assert.Empty(t, h.candidates, "results from a previous scan run MUST be dropped")

	central.Advertise(testutils.Record("AA:03", "QualiaLock"))
	assert.Equal(t, []string{"AA:03"}, h.ids())

	h.scan.OnDiscovered(device.PeripheralRecord{})
	assert.Len(t, h.candidates, 1, "records without an id MUST be dropped")
}

func TestScanSessionStampsLastSeen(t *testing.T) {
	central := testutils.NewMockCentral().ExpectDefaults()
	h := newScanHarness(central)
	h.scan.Start()

	central.Advertise(device.PeripheralRecord{ID: "AA:01"})
	require.Len(t, h.candidates, 1)
	assert.False(t, h.candidates[0].LastSeen.IsZero(), "MUST stamp LastSeen when the platform did not")
}

func TestScanSessionStartRejected(t *testing.T) {
	// GOAL: Verify a rejected scan start surfaces ScanStartFailed and leaves scanning off
	//
	// TEST SCENARIO: Platform rejects StartScan → one ScanStartFailed error → isScanning false → next start retries

	central := testutils.NewMockCentral()
	central.On("StartScan", mock.Anything).Return(errors.New("radio off")).Once()
	central.ExpectDefaults()
	h := newScanHarness(central)

	h.scan.Start()
	assert.False(t, h.scan.IsScanning())
	require.Len(t, h.errs, 1)
	assert.ErrorIs(t, h.errs[0], ErrScanStartFailed)
	assert.ErrorContains(t, h.errs[0], "radio off")

	h.scan.Start()
	assert.True(t, h.scan.IsScanning(), "a later start MUST be attempted again")
	central.AssertNumberOfCalls(t, "StartScan", 2)
}

func TestScanSessionAsyncFailure(t *testing.T) {
	central := testutils.NewMockCentral().ExpectDefaults()
	h := newScanHarness(central)
	h.scan.Start()

	central.FailScan(errors.New("scan aborted: code 2"))
	assert.False(t, h.scan.IsScanning())
	require.Len(t, h.errs, 1)
	assert.Equal(t, ScanStartFailed, KindOf(h.errs[0]))

	central.FailScan(errors.New("again"))
	assert.Len(t, h.errs, 1, "failures of a stopped scan MUST be ignored")
}
