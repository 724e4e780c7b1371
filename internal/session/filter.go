package session

import (
	"strings"

	"github.com/srg/blelink/internal/device"
)

// MatchAll as a prefix surfaces every peripheral, named or not.
const MatchAll = "*"

// AdvertisementFilter decides which discovered peripherals are surfaced to the
// consumer. It holds no state.
type AdvertisementFilter struct {
	// Prefix the advertised name must start with. Empty or MatchAll matches everything.
	Prefix string
	// IgnoreCase compares the prefix case-insensitively.
	IgnoreCase bool
}

// Verdict is the outcome of classifying one record.
type Verdict struct {
	Candidate bool
	Duplicate bool
}

// Match reports whether rec's name carries the expected prefix.
func (f AdvertisementFilter) Match(rec device.PeripheralRecord) bool {
	if f.Prefix == "" || f.Prefix == MatchAll {
		return true
	}
	if f.IgnoreCase {
		return strings.HasPrefix(strings.ToLower(rec.Name), strings.ToLower(f.Prefix))
	}
	return strings.HasPrefix(rec.Name, f.Prefix)
}

// Classify combines the prefix match with the duplicate check against the
// identifiers seen in the current scan epoch.
func (f AdvertisementFilter) Classify(rec device.PeripheralRecord, seen func(id string) bool) Verdict {
	return Verdict{
		Candidate: f.Match(rec),
		Duplicate: IsDuplicate(rec, seen),
	}
}

// IsDuplicate reports whether rec's identifier was already seen.
func IsDuplicate(rec device.PeripheralRecord, seen func(id string) bool) bool {
	return seen != nil && seen(rec.ID)
}
