package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/blelink/internal/device"
)

func TestAdvertisementFilterMatch(t *testing.T) {
	tests := []struct {
		name     string
		filter   AdvertisementFilter
		rec      device.PeripheralRecord
		expected bool
	}{
		{"prefix match", AdvertisementFilter{Prefix: "Qualia"}, device.PeripheralRecord{ID: "AA:01", Name: "QualiaLock"}, true},
		{"exact name", AdvertisementFilter{Prefix: "Qualia"}, device.PeripheralRecord{ID: "AA:01", Name: "Qualia"}, true},
		{"other device", AdvertisementFilter{Prefix: "Qualia"}, device.PeripheralRecord{ID: "AA:02", Name: "OtherDevice"}, false},
		{"unnamed", AdvertisementFilter{Prefix: "Qualia"}, device.PeripheralRecord{ID: "AA:03"}, false},
		{"case sensitive by default", AdvertisementFilter{Prefix: "Qualia"}, device.PeripheralRecord{ID: "AA:04", Name: "qualialock"}, false},
		{"ignore case", AdvertisementFilter{Prefix: "Qualia", IgnoreCase: true}, device.PeripheralRecord{ID: "AA:04", Name: "qualialock"}, true},
		{"empty prefix", AdvertisementFilter{}, device.PeripheralRecord{ID: "AA:05"}, true},
		{"match all", AdvertisementFilter{Prefix: MatchAll}, device.PeripheralRecord{ID: "AA:06", Name: "Anything"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.filter.Match(tt.rec))
		})
	}
}

func TestAdvertisementFilterClassify(t *testing.T) {
	// GOAL: Verify the filter reports prefix match and duplicate state independently
	//
	// TEST SCENARIO: AA:01 already seen → QualiaLock is a duplicate candidate, OtherDevice a fresh non-candidate

	seen := map[string]bool{"AA:01": true}
	isSeen := func(id string) bool { return seen[id] }
	f := AdvertisementFilter{Prefix: "Qualia"}

	v := f.Classify(device.PeripheralRecord{ID: "AA:01", Name: "QualiaLock"}, isSeen)
	assert.Equal(t, Verdict{Candidate: true, Duplicate: true}, v)

	v = f.Classify(device.PeripheralRecord{ID: "AA:02", Name: "OtherDevice"}, isSeen)
	assert.Equal(t, Verdict{Candidate: false, Duplicate: false}, v)

	assert.False(t, IsDuplicate(device.PeripheralRecord{ID: "AA:01"}, nil), "nil seen set MUST never report duplicates")
}
