package override

import "errors"

var (
	ErrMissingIdentity   = errors.New("override requires requester and approver")
	ErrSameIdentity      = errors.New("override requester and approver must differ")
	ErrSelfAuthorization = errors.New("acting agent cannot authorize its own override")
	ErrNotApprover       = errors.New("identity is not a configured override approver")
	ErrInvalidCategory   = errors.New("unknown override category")
	ErrMissingAction     = errors.New("override action id required")
	ErrMissingReason     = errors.New("override reason required")
)
