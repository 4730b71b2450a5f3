package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/davidahmann/steward/internal/auth"
	"github.com/davidahmann/steward/internal/gateway"
	"github.com/davidahmann/steward/pkg/types"
)

// ActionRequest is the wire form agents send. Actor identity and role come
// from the bearer token, never from the body.
type ActionRequest struct {
	RequestID string            `json:"request_id"`
	Action    string            `json:"action"`
	ActionID  string            `json:"action_id"`
	TargetID  string            `json:"target_id"`
	FlowType  types.FlowType    `json:"flow_type"`
	UserTier  string            `json:"user_tier"`
	Metadata  map[string]string `json:"metadata"`
}

func (a ActionRequest) toRequest(id auth.Identity) types.ActionRequest {
	return types.ActionRequest{
		RequestID:   a.RequestID,
		ActorID:     id.Subject,
		ActorRole:   id.Role,
		Action:      a.Action,
		ActionID:    a.ActionID,
		TargetID:    a.TargetID,
		FlowType:    a.FlowType,
		UserTier:    a.UserTier,
		Metadata:    a.Metadata,
		RequestedAt: time.Now().UTC(),
	}
}

func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireAgent(w, r)
	if !ok {
		return
	}
	if h.Gateway == nil {
		notConfigured(w, "gateway")
		return
	}
	var body ActionRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	d, err := h.Gateway.Evaluate(r.Context(), body.toRequest(id))
	if err != nil {
		h.logger().Error("evaluate failed", zap.String("request_id", d.RequestID), zap.Error(err))
	}
	writeJSON(w, decisionStatus(d), d)
}

func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireAgent(w, r)
	if !ok {
		return
	}
	if h.Gateway == nil {
		notConfigured(w, "gateway")
		return
	}
	var body ActionRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	exec, err := h.Gateway.Execute(r.Context(), body.toRequest(id))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, exec)
	case errors.Is(err, gateway.ErrDispatch):
		writeJSON(w, http.StatusBadGateway, map[string]any{"decision": exec.Decision, "error": err.Error()})
	case errors.Is(err, gateway.ErrMissingDependency):
		notConfigured(w, "dispatcher")
	default:
		writeJSON(w, decisionStatus(exec.Decision), exec)
	}
}
