package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/davidahmann/steward/pkg/types"
)

type signalsBody struct {
	Signals []string `json:"signals"`
}

// PutSignals replaces the signal set of a target in the development signal
// source.
func (h *Handler) PutSignals(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireHuman(w, r); !ok {
		return
	}
	if h.Signals == nil {
		notConfigured(w, "signal source")
		return
	}
	var body signalsBody
	if !decodeJSON(w, r, &body) {
		return
	}
	target := chi.URLParam(r, "target_id")
	h.Signals.Set(target, body.Signals...)
	writeJSON(w, http.StatusOK, map[string]any{"target_id": target, "signals": body.Signals})
}

func (h *Handler) DeleteSignals(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireHuman(w, r); !ok {
		return
	}
	if h.Signals == nil {
		notConfigured(w, "signal source")
		return
	}
	h.Signals.Clear(chi.URLParam(r, "target_id"))
	w.WriteHeader(http.StatusNoContent)
}

// ReloadPolicy re-reads the policy file. A rejected file leaves the active
// policy in place and answers 422.
func (h *Handler) ReloadPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireHuman(w, r)
	if !ok {
		return
	}
	if h.Policy == nil {
		notConfigured(w, "policy holder")
		return
	}
	previous := h.Policy.Current()
	loaded, err := h.Policy.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if h.Audit != nil {
		if _, err := h.Audit.Record(context.WithoutCancel(r.Context()), types.AuditEvent{
			ActorID:       id.Subject,
			Subsystem:     types.SubsystemPolicy,
			Action:        "reload",
			PolicyVersion: loaded.Policy.PolicyVersion,
			Verdict:       "applied",
			Metadata: map[string]string{
				"previous_version": previous.Policy.PolicyVersion,
				"policy_hash":      loaded.Hash,
			},
		}); err != nil {
			h.logger().Error("policy reload audit failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"policy_id":      loaded.Policy.PolicyID,
		"policy_version": loaded.Policy.PolicyVersion,
		"policy_hash":    loaded.Hash,
	})
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]string{"status": "ok"}
	if h.Policy != nil {
		resp["policy_version"] = h.Policy.Current().Policy.PolicyVersion
	}
	writeJSON(w, http.StatusOK, resp)
}
