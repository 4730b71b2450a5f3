package audit

import (
	"crypto/ed25519"
	"fmt"

	"github.com/davidahmann/steward/internal/crypto"
	"github.com/davidahmann/steward/pkg/types"
)

// Keys maps key ids to verification keys.
type Keys map[string]ed25519.PublicKey

type Report struct {
	Events     int    `json:"events"`
	FirstSeq   int64  `json:"first_seq"`
	LastSeq    int64  `json:"last_seq"`
	LastDigest string `json:"last_digest,omitempty"`
}

// VerifyChain checks that events form a contiguous chain, that every digest
// matches its content and that every signature verifies. A chain starting
// at seq 1 must have an empty PrevDigest. Signatures are skipped when keys
// is nil.
func VerifyChain(events []types.AuditEvent, keys Keys) (Report, error) {
	report := Report{Events: len(events)}
	if len(events) == 0 {
		return report, nil
	}
	report.FirstSeq = events[0].Seq

	for i, ev := range events {
		if i == 0 {
			if ev.Seq == 1 && ev.PrevDigest != "" {
				return report, fmt.Errorf("%w: seq 1 has prev digest", ErrChainBroken)
			}
		} else {
			prev := events[i-1]
			if ev.Seq != prev.Seq+1 {
				return report, fmt.Errorf("%w: seq %d follows %d", ErrChainBroken, ev.Seq, prev.Seq)
			}
			if ev.PrevDigest != prev.Digest {
				return report, fmt.Errorf("%w: seq %d does not link to %d", ErrChainBroken, ev.Seq, prev.Seq)
			}
		}

		digest, digestBytes, err := Digest(ev)
		if err != nil {
			return report, fmt.Errorf("seq %d: %w", ev.Seq, err)
		}
		if digest != ev.Digest {
			return report, fmt.Errorf("%w: seq %d", ErrDigestMismatch, ev.Seq)
		}

		if keys != nil {
			pub, ok := keys[ev.KeyID]
			if !ok {
				return report, fmt.Errorf("%w: %q at seq %d", ErrUnknownKey, ev.KeyID, ev.Seq)
			}
			valid, err := crypto.VerifyEd25519(pub, digestBytes, ev.Sig)
			if err != nil {
				return report, err
			}
			if !valid {
				return report, fmt.Errorf("%w: seq %d", ErrSignature, ev.Seq)
			}
		}

		report.LastSeq = ev.Seq
		report.LastDigest = ev.Digest
	}
	return report, nil
}
