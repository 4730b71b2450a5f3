// Package risk is the emotional-signal circuit breaker. It holds no state
// between calls: every check reads the current signals for the target.
package risk

import (
	"context"
	"fmt"
	"sort"
)

// SignalSource returns the current signal tags for a target.
type SignalSource interface {
	Signals(ctx context.Context, targetID string) ([]string, error)
}

type WatchSet map[string]struct{}

func NewWatchSet(tags ...string) WatchSet {
	ws := make(WatchSet, len(tags))
	for _, tag := range tags {
		ws[tag] = struct{}{}
	}
	return ws
}

type Detector struct {
	source SignalSource
}

func NewDetector(source SignalSource) *Detector {
	return &Detector{source: source}
}

// IsFlagged reports whether any current signal for targetID is in watch.
func (d *Detector) IsFlagged(ctx context.Context, targetID string, watch WatchSet) (bool, error) {
	matched, err := d.MatchedSignals(ctx, targetID, watch)
	if err != nil {
		return false, err
	}
	return len(matched) > 0, nil
}

// MatchedSignals returns the sorted intersection of the target's current
// signals with watch.
func (d *Detector) MatchedSignals(ctx context.Context, targetID string, watch WatchSet) ([]string, error) {
	if targetID == "" || len(watch) == 0 {
		return nil, nil
	}
	signals, err := d.source.Signals(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("signals for %s: %w", targetID, err)
	}

	seen := map[string]struct{}{}
	var matched []string
	for _, tag := range signals {
		if _, ok := watch[tag]; !ok {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		matched = append(matched, tag)
	}
	sort.Strings(matched)
	return matched, nil
}
