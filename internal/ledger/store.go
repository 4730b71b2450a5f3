// Package ledger persists the append-only governance collections: override
// history, flagged actions and their resolutions, council votes and the
// hash-chained audit log. The escalation outbox lives here too; it is the
// only mutable collection.
package ledger

import (
	"context"
	"time"

	"github.com/davidahmann/steward/pkg/types"
)

// Collection names. The file store uses them as relative paths; SQL stores
// map them to tables.
const (
	CollectionOverrides   = "audit/override-history"
	CollectionFlags       = "audit/flagged-actions"
	CollectionResolutions = "audit/flag-resolutions"
	CollectionVotes       = "audit/council-votes"
	CollectionAuditEvents = "audit/audit-events"
	CollectionEscalations = "outbox/escalations"
)

type Store interface {
	AppendOverride(ctx context.Context, rec types.OverrideRecord) error
	ListOverrides(ctx context.Context) ([]types.OverrideRecord, error)
	FindOverrides(ctx context.Context, actionID, category string) ([]types.OverrideRecord, error)

	// ListFlags returns flags as written; Resolved is not derived here.
	AppendFlag(ctx context.Context, flag types.FlaggedAction) error
	ListFlags(ctx context.Context) ([]types.FlaggedAction, error)
	AppendResolution(ctx context.Context, res types.FlagResolution) error
	ListResolutions(ctx context.Context) ([]types.FlagResolution, error)

	AppendVote(ctx context.Context, vote types.CouncilVote) error
	ListVotes(ctx context.Context, version string) ([]types.CouncilVote, error)

	// AppendAuditEvent fails with ErrSeqConflict when ev.Seq is taken.
	AppendAuditEvent(ctx context.Context, ev types.AuditEvent) error
	ListAuditEvents(ctx context.Context, filter AuditFilter) ([]types.AuditEvent, error)
	LastAuditEvent(ctx context.Context) (types.AuditEvent, bool, error)

	PutEscalation(ctx context.Context, rec EscalationRecord) error
	GetEscalation(ctx context.Context, escalationID string) (EscalationRecord, bool, error)
	ListEscalationsDue(ctx context.Context, now time.Time, limit int) ([]EscalationRecord, error)
}

// AuditFilter narrows ListAuditEvents. Zero fields match everything.
// Results are ordered by Seq ascending.
type AuditFilter struct {
	RequestID string
	Subsystem string
	AfterSeq  int64
	Limit     int
}

func (f AuditFilter) Match(ev types.AuditEvent) bool {
	if f.RequestID != "" && ev.RequestID != f.RequestID {
		return false
	}
	if f.Subsystem != "" && ev.Subsystem != f.Subsystem {
		return false
	}
	return ev.Seq > f.AfterSeq
}

const (
	EscalationPending = "pending"
	EscalationSent    = "sent"
)

// EscalationRecord is a queued notification to the human review channel,
// raised when a decision ends in pause or override_required.
type EscalationRecord struct {
	EscalationID  string     `json:"escalation_id"`
	RequestID     string     `json:"request_id"`
	ActionID      string     `json:"action_id"`
	ReasonCode    string     `json:"reason_code"`
	PayloadJSON   []byte     `json:"payload_json"`
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	LastError     *string    `json:"last_error,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Due reports whether the record should be attempted at now.
func (r EscalationRecord) Due(now time.Time) bool {
	return r.Status == EscalationPending && !r.NextAttemptAt.After(now)
}

// TimeLayout is the fixed-width text encoding used where timestamps are
// stored as strings, so lexical order matches time order. Format UTC only.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
