package types

import "time"

// OverrideRecord is a human authorization for one action in one category.
// Agent is empty when the grant did not name the acting agent.
type OverrideRecord struct {
	OverrideID string     `json:"override_id"`
	Timestamp  time.Time  `json:"timestamp"`
	ActionID   string     `json:"action_id"`
	Action     string     `json:"action"`
	Agent      string     `json:"agent,omitempty"`
	Category   string     `json:"category"`
	OverrideBy string     `json:"override_by"`
	ApprovedBy string     `json:"approved_by"`
	Reason     string     `json:"reason"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// OverrideScope is the action an override has to cover.
type OverrideScope struct {
	ActionID string
	Action   string
	Agent    string
	Category string
}

// Covers reports whether the override names this action instance, action
// name and category, and either names no agent or the same agent.
func (o OverrideRecord) Covers(s OverrideScope) bool {
	if o.ActionID != s.ActionID || o.Action != s.Action || o.Category != s.Category {
		return false
	}
	return o.Agent == "" || o.Agent == s.Agent
}

// ActiveAt reports whether the override was granted before t and has not
// expired at t.
func (o OverrideRecord) ActiveAt(t time.Time) bool {
	if !o.Timestamp.Before(t) {
		return false
	}
	if o.ExpiresAt != nil && !t.Before(*o.ExpiresAt) {
		return false
	}
	return true
}

// FlaggedAction is council feedback on an action. Resolved is derived from
// FlagResolution entries when read back.
type FlaggedAction struct {
	FlagID      string    `json:"flag_id"`
	ActionID    string    `json:"action_id"`
	Comment     string    `json:"comment"`
	SubmittedBy string    `json:"submitted_by"`
	Timestamp   time.Time `json:"timestamp"`
	Resolved    bool      `json:"resolved"`
}

type FlagResolution struct {
	FlagID     string    `json:"flag_id"`
	ResolvedBy string    `json:"resolved_by"`
	Note       string    `json:"note,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
