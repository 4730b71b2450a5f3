package types

import "time"

type Verdict string

const (
	VerdictAdmit            Verdict = "admit"
	VerdictDeny             Verdict = "deny"
	VerdictPause            Verdict = "pause"
	VerdictOverrideRequired Verdict = "override_required"
)

type ReasonCode string

const (
	CodeAdmitted             ReasonCode = "ADMITTED"
	CodePermissionDenied     ReasonCode = "PERMISSION_DENIED"
	CodeConfigurationMissing ReasonCode = "CONFIGURATION_MISSING"
	CodeTierRestricted       ReasonCode = "TIER_RESTRICTED"
	CodeFlowTypeMismatch     ReasonCode = "FLOW_TYPE_MISMATCH"
	CodeEmotionalFlagPause   ReasonCode = "EMOTIONAL_FLAG_PAUSE"
	CodeSignalSourceFailure  ReasonCode = "SIGNAL_SOURCE_FAILURE"
	CodeOverrideRequired     ReasonCode = "OVERRIDE_REQUIRED"
	CodeOverrideCheckFailure ReasonCode = "OVERRIDE_CHECK_FAILURE"
	CodeRateLimited          ReasonCode = "RATE_LIMITED"
	CodeAuditWriteFailure    ReasonCode = "AUDIT_WRITE_FAILURE"
)

// Caller-visible reason strings.
const (
	ReasonAdmitted            = "Admitted"
	ReasonPermissionDenied    = "Permission denied"
	ReasonEmotionalFlag       = "Paused: Emotional flag triggered"
	ReasonSignalUnavailable   = "Paused: Signal source unavailable"
	ReasonOverrideRequired    = "Override required"
	ReasonOverrideCheckFailed = "Override check failed"
	ReasonRateLimited         = "Rate limit exceeded"
	ReasonFlowTypeMismatch    = "Flow type mismatch"
	ReasonAuditWriteFailed    = "Audit write failed"
)

// Decision is the gate's answer for one ActionRequest.
type Decision struct {
	RequestID     string     `json:"request_id"`
	Verdict       Verdict    `json:"verdict"`
	Code          ReasonCode `json:"reason_code"`
	Reason        string     `json:"reason"`
	Action        string     `json:"action"`
	FlowType      FlowType   `json:"flow_type,omitempty"`
	FeeBps        int        `json:"fee_bps"`
	PolicyVersion string     `json:"policy_version,omitempty"`
	AuditEventID  string     `json:"audit_event_id,omitempty"`
	DecidedAt     time.Time  `json:"decided_at"`
}

func (d Decision) Admitted() bool {
	return d.Verdict == VerdictAdmit
}

// Retryable reports whether the same request may succeed later without a
// change of role: after signals clear, an override grant, or a new window.
func (d Decision) Retryable() bool {
	switch d.Code {
	case CodeEmotionalFlagPause, CodeSignalSourceFailure, CodeOverrideRequired, CodeRateLimited, CodeOverrideCheckFailure:
		return true
	default:
		return false
	}
}
