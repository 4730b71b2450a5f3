package audit

import (
	"time"

	"github.com/davidahmann/steward/internal/crypto"
	"github.com/davidahmann/steward/pkg/types"
)

// signingView is everything covered by the digest: the event minus its
// digest and signature.
type signingView struct {
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
	KeyID         string            `json:"key_id,omitempty"`
}

// Digest returns the "sha256:" digest of the event's canonical signing view
// and the raw digest bytes that get signed.
func Digest(ev types.AuditEvent) (string, []byte, error) {
	canonical, err := crypto.Canonicalize(signingView{
		EventID:       ev.EventID,
		Seq:           ev.Seq,
		Timestamp:     ev.Timestamp.UTC(),
		ActorID:       ev.ActorID,
		Subsystem:     ev.Subsystem,
		Action:        ev.Action,
		PolicyVersion: ev.PolicyVersion,
		Verdict:       ev.Verdict,
		ReasonCode:    ev.ReasonCode,
		RequestID:     ev.RequestID,
		Metadata:      ev.Metadata,
		PrevDigest:    ev.PrevDigest,
		KeyID:         ev.KeyID,
	})
	if err != nil {
		return "", nil, err
	}
	return crypto.DigestWithPrefix(canonical), crypto.DigestBytes(canonical), nil
}
