package ledger

import (
	"sort"
	"time"

	"github.com/davidahmann/steward/pkg/types"
)

// ApplyResolutions sets Resolved on every flag that has at least one
// resolution. The input slice is not modified.
func ApplyResolutions(flags []types.FlaggedAction, resolutions []types.FlagResolution) []types.FlaggedAction {
	resolved := make(map[string]struct{}, len(resolutions))
	for _, res := range resolutions {
		resolved[res.FlagID] = struct{}{}
	}
	out := make([]types.FlaggedAction, len(flags))
	for i, flag := range flags {
		_, ok := resolved[flag.FlagID]
		flag.Resolved = flag.Resolved || ok
		out[i] = flag
	}
	return out
}

// LatestOverride returns the most recently appended override. recs must be
// in append order, as every Store lists them.
func LatestOverride(recs []types.OverrideRecord) (types.OverrideRecord, bool) {
	if len(recs) == 0 {
		return types.OverrideRecord{}, false
	}
	return recs[len(recs)-1], true
}

// SortEscalations orders records oldest first.
func SortEscalations(recs []EscalationRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}

// NormalizeTime truncates t to the precision every backend round-trips
// (Postgres keeps microseconds) and moves it to UTC.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
