package ledger

import "errors"

var (
	ErrSeqConflict      = errors.New("audit sequence already taken")
	ErrDuplicateID      = errors.New("record id already exists")
	ErrMissingID        = errors.New("record id required")
	ErrInvalidPayload   = errors.New("invalid payload json")
	ErrAlreadyResolved  = errors.New("flag already resolved")
	ErrUnknownFlag      = errors.New("flag not found")
	ErrUnsupportedStore = errors.New("unsupported store driver")
)
