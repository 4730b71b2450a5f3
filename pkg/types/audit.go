package types

import "time"

// Audit subsystems.
const (
	SubsystemGateway  = "gateway"
	SubsystemDispatch = "dispatch"
	SubsystemOverride = "override"
	SubsystemCouncil  = "council"
	SubsystemPolicy   = "policy"
)

// AuditEvent is one entry of the append-only, hash-chained audit log.
type AuditEvent struct {
	EventID       string            `json:"event_id"`
	Seq           int64             `json:"seq"`
	Timestamp     time.Time         `json:"timestamp"`
	ActorID       string            `json:"actor_id"`
	Subsystem     string            `json:"subsystem"`
	Action        string            `json:"action"`
	PolicyVersion string            `json:"policy_version,omitempty"`
	Verdict       string            `json:"verdict,omitempty"`
	ReasonCode    string            `json:"reason_code,omitempty"`
	RequestID     string            `json:"request_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	PrevDigest    string            `json:"prev_digest,omitempty"`
	Digest        string            `json:"digest"`
	KeyID         string            `json:"key_id,omitempty"`
	Sig           []byte            `json:"sig,omitempty"`
}
