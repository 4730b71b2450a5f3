package council

import "errors"

var (
	ErrNotCouncilMember = errors.New("identity is not a council member")
	ErrMissingAction    = errors.New("action id required")
	ErrMissingComment   = errors.New("feedback comment required")
	ErrMissingVersion   = errors.New("policy version required")
	ErrInvalidVote      = errors.New("vote must be approve, reject or pause")
)
