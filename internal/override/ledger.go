package override

import (
	"context"
	"encoding/json"

	"github.com/davidahmann/steward/internal/ledger"
	"github.com/davidahmann/steward/pkg/types"
)

// Ledger is the append and review view over override history and flagged
// actions.
type Ledger struct {
	store ledger.Store
}

func NewLedger(store ledger.Store) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) AppendOverride(ctx context.Context, rec types.OverrideRecord) error {
	return l.store.AppendOverride(ctx, rec)
}

func (l *Ledger) AppendFlag(ctx context.Context, flag types.FlaggedAction) error {
	flag.Resolved = false
	return l.store.AppendFlag(ctx, flag)
}

// Summary is the override review report. LastOverride is nil for an empty
// ledger.
type Summary struct {
	TotalOverrides  int
	FlaggedCount    int
	UnresolvedCount int
	LastOverride    *types.OverrideRecord
}

func (s Summary) MarshalJSON() ([]byte, error) {
	var last any = "None"
	if s.LastOverride != nil {
		last = s.LastOverride
	}
	return json.Marshal(struct {
		TotalOverrides  int `json:"totalOverrides"`
		FlaggedActions  int `json:"flaggedActions"`
		UnresolvedFlags int `json:"unresolvedFlags"`
		LastOverride    any `json:"lastOverride"`
	}{s.TotalOverrides, s.FlaggedCount, s.UnresolvedCount, last})
}

// Summarize reads the ledger without modifying it.
func (l *Ledger) Summarize(ctx context.Context) (Summary, error) {
	overrides, err := l.store.ListOverrides(ctx)
	if err != nil {
		return Summary{}, err
	}
	flags, err := l.store.ListFlags(ctx)
	if err != nil {
		return Summary{}, err
	}
	resolutions, err := l.store.ListResolutions(ctx)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{TotalOverrides: len(overrides), FlaggedCount: len(flags)}
	for _, flag := range ledger.ApplyResolutions(flags, resolutions) {
		if !flag.Resolved {
			summary.UnresolvedCount++
		}
	}
	if last, ok := ledger.LatestOverride(overrides); ok {
		summary.LastOverride = &last
	}
	return summary, nil
}
