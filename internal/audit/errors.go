package audit

import "errors"

var (
	ErrAuditWrite     = errors.New("audit write failed")
	ErrDigestMismatch = errors.New("audit digest mismatch")
	ErrChainBroken    = errors.New("audit chain broken")
	ErrSignature      = errors.New("audit signature invalid")
	ErrUnknownKey     = errors.New("audit signing key unknown")
)
