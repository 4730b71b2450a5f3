package override

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/steward/pkg/types"
)

// Recorder appends audit events.
type Recorder interface {
	Record(ctx context.Context, ev types.AuditEvent) (types.AuditEvent, error)
}

// GrantRequest asks for an override of one action. Action defaults to
// ActionID, which covers requests that carry no action instance id.
type GrantRequest struct {
	ActionID    string `json:"action_id"`
	Action      string `json:"action,omitempty"`
	Category    string `json:"category"`
	Reason      string `json:"reason"`
	RequestedBy string `json:"override_by"`
	ApprovedBy  string `json:"approved_by"`
	// Agent is the identity that will perform the action, when known.
	Agent string `json:"agent,omitempty"`
}

// Guard is the only writer of override records. Every grant needs two
// distinct humans, neither of them the acting agent.
type Guard struct {
	ledger *Ledger
	audit  Recorder
	now    func() time.Time
	newID  func() string

	mu            sync.RWMutex
	approvers     map[string]struct{}
	ttl           time.Duration
	policyVersion string
}

type GuardOption func(*Guard)

func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

func WithIDs(newID func() string) GuardOption {
	return func(g *Guard) { g.newID = newID }
}

func NewGuard(l *Ledger, audit Recorder, opts ...GuardOption) *Guard {
	g := &Guard{
		ledger: l,
		audit:  audit,
		now:    time.Now,
		newID:  func() string { return "ovr_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Configure sets the approver list, grant lifetime and policy version
// stamped on audit events. An empty approver list accepts any two distinct
// identities; ttl <= 0 makes grants permanent.
func (g *Guard) Configure(approvers []string, ttl time.Duration, policyVersion string) {
	set := make(map[string]struct{}, len(approvers))
	for _, a := range approvers {
		set[a] = struct{}{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.approvers = set
	g.ttl = ttl
	g.policyVersion = policyVersion
}

func (g *Guard) validate(req GrantRequest) error {
	switch {
	case req.ActionID == "":
		return ErrMissingAction
	case !types.ValidCategory(req.Category):
		return fmt.Errorf("%w: %q", ErrInvalidCategory, req.Category)
	case req.Reason == "":
		return ErrMissingReason
	case req.RequestedBy == "" || req.ApprovedBy == "":
		return ErrMissingIdentity
	case req.RequestedBy == req.ApprovedBy:
		return ErrSameIdentity
	case req.Agent != "" && (req.RequestedBy == req.Agent || req.ApprovedBy == req.Agent):
		return ErrSelfAuthorization
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.approvers) == 0 {
		return nil
	}
	for _, id := range []string{req.RequestedBy, req.ApprovedBy} {
		if _, ok := g.approvers[id]; !ok {
			return fmt.Errorf("%w: %s", ErrNotApprover, id)
		}
	}
	return nil
}

// Grant validates dual control, audits the grant and appends the override.
// Nothing is appended when the audit write fails.
func (g *Guard) Grant(ctx context.Context, req GrantRequest) (types.OverrideRecord, error) {
	if err := g.validate(req); err != nil {
		return types.OverrideRecord{}, err
	}

	g.mu.RLock()
	ttl, version := g.ttl, g.policyVersion
	g.mu.RUnlock()

	action := req.Action
	if action == "" {
		action = req.ActionID
	}
	now := g.now().UTC()
	rec := types.OverrideRecord{
		OverrideID: g.newID(),
		Timestamp:  now,
		ActionID:   req.ActionID,
		Action:     action,
		Agent:      req.Agent,
		Category:   req.Category,
		OverrideBy: req.RequestedBy,
		ApprovedBy: req.ApprovedBy,
		Reason:     req.Reason,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		rec.ExpiresAt = &expires
	}

	meta := map[string]string{
		"override_id": rec.OverrideID,
		"category":    rec.Category,
		"approved_by": rec.ApprovedBy,
		"action_name": rec.Action,
	}
	if rec.Agent != "" {
		meta["agent"] = rec.Agent
	}
	if rec.ExpiresAt != nil {
		meta["expires_at"] = rec.ExpiresAt.Format(time.RFC3339)
	}
	if _, err := g.audit.Record(ctx, types.AuditEvent{
		Timestamp:     now,
		ActorID:       rec.OverrideBy,
		Subsystem:     types.SubsystemOverride,
		Action:        rec.ActionID,
		PolicyVersion: version,
		Verdict:       "granted",
		Metadata:      meta,
	}); err != nil {
		return types.OverrideRecord{}, err
	}

	if err := g.ledger.AppendOverride(ctx, rec); err != nil {
		err = fmt.Errorf("append override: %w", err)
		// The granted event is already on the chain; retract it there.
		_, auditErr := g.audit.Record(ctx, types.AuditEvent{
			Timestamp:     g.now().UTC(),
			ActorID:       rec.OverrideBy,
			Subsystem:     types.SubsystemOverride,
			Action:        rec.ActionID,
			PolicyVersion: version,
			Verdict:       "grant_failed",
			Metadata: map[string]string{
				"override_id": rec.OverrideID,
				"error":       err.Error(),
			},
		})
		return types.OverrideRecord{}, errors.Join(err, auditErr)
	}
	return rec, nil
}
