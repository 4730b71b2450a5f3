// Package override decides which flow categories need a human override,
// records overrides under dual control and summarizes the override ledger.
package override

import (
	"context"
	"sync"
	"time"

	"github.com/davidahmann/steward/internal/ledger"
	"github.com/davidahmann/steward/pkg/types"
)

// DefaultMandatory lists the categories that need an override when the
// policy does not say otherwise.
var DefaultMandatory = []string{types.CategoryFinancial, types.CategoryRelationship}

type Policy struct {
	store ledger.Store

	mu        sync.RWMutex
	mandatory map[string]struct{}
}

func NewPolicy(store ledger.Store, mandatory []string) *Policy {
	p := &Policy{store: store}
	p.Configure(mandatory)
	return p
}

// Configure replaces the override-mandatory categories. A nil slice
// restores DefaultMandatory; an empty non-nil slice disables overrides.
func (p *Policy) Configure(mandatory []string) {
	if mandatory == nil {
		mandatory = DefaultMandatory
	}
	set := make(map[string]struct{}, len(mandatory))
	for _, category := range mandatory {
		set[category] = struct{}{}
	}
	p.mu.Lock()
	p.mandatory = set
	p.mu.Unlock()
}

func (p *Policy) IsOverrideRequired(category string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.mandatory[category]
	return ok
}

// HasActiveOverride reports whether an override covering scope was granted
// before at and has not expired.
func (p *Policy) HasActiveOverride(ctx context.Context, scope types.OverrideScope, at time.Time) (bool, error) {
	recs, err := p.store.FindOverrides(ctx, scope.ActionID, scope.Category)
	if err != nil {
		return false, err
	}
	for _, rec := range recs {
		if rec.Covers(scope) && rec.ActiveAt(at) {
			return true, nil
		}
	}
	return false, nil
}
