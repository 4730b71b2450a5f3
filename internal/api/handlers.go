// Package api exposes the gateway, the override guard and the council
// over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/davidahmann/steward/internal/audit"
	"github.com/davidahmann/steward/internal/auth"
	"github.com/davidahmann/steward/internal/council"
	"github.com/davidahmann/steward/internal/gateway"
	"github.com/davidahmann/steward/internal/ledger"
	"github.com/davidahmann/steward/internal/override"
	"github.com/davidahmann/steward/internal/policy"
	"github.com/davidahmann/steward/internal/risk"
	"github.com/davidahmann/steward/pkg/types"
)

const maxBodyBytes = 1 << 20

// Handler holds the services behind the HTTP surface. Nil services answer
// 501.
type Handler struct {
	Auth    auth.Authenticator
	Gateway *gateway.Gateway
	Guard   *override.Guard
	Council *council.Service
	Store   ledger.Store
	Audit   gateway.Recorder
	Policy  *policy.Holder
	Signals *risk.MemorySignals
	Keys    audit.Keys
	Stream  *Hub
	Logger  *zap.Logger
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	if h.Auth == nil {
		writeError(w, http.StatusUnauthorized, "authentication not configured")
		return auth.Identity{}, false
	}
	id, err := h.Auth.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return auth.Identity{}, false
	}
	return id, true
}

func (h *Handler) requireAgent(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := h.authenticate(w, r)
	if !ok {
		return id, false
	}
	if !id.IsAgent() {
		writeError(w, http.StatusForbidden, "only agents submit actions")
		return id, false
	}
	return id, true
}

func (h *Handler) requireHuman(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := h.authenticate(w, r)
	if !ok {
		return id, false
	}
	if !id.IsHuman() {
		writeError(w, http.StatusForbidden, auth.ErrForbidden.Error())
		return id, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func notConfigured(w http.ResponseWriter, what string) {
	writeError(w, http.StatusNotImplemented, what+" not configured")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// decisionStatus maps a decision to its HTTP status. Only a failed audit
// write is a server error; every other verdict is a normal answer.
func decisionStatus(d types.Decision) int {
	if d.Code == types.CodeAuditWriteFailure {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// serviceError maps errors returned by the override guard and the council
// to a status.
func serviceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, audit.ErrAuditWrite):
		status = http.StatusServiceUnavailable
	case errors.Is(err, override.ErrSameIdentity),
		errors.Is(err, override.ErrSelfAuthorization),
		errors.Is(err, override.ErrNotApprover),
		errors.Is(err, council.ErrNotCouncilMember):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrUnknownFlag):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyResolved), errors.Is(err, ledger.ErrDuplicateID):
		status = http.StatusConflict
	case errors.Is(err, override.ErrMissingIdentity),
		errors.Is(err, override.ErrInvalidCategory),
		errors.Is(err, override.ErrMissingAction),
		errors.Is(err, override.ErrMissingReason),
		council.IsValidationError(err):
		status = http.StatusBadRequest
	}
	writeError(w, status, err.Error())
}
