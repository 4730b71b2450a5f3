package api

import (
	"net/http"
	"strconv"

	"github.com/davidahmann/steward/internal/audit"
	"github.com/davidahmann/steward/internal/ledger"
)

const maxAuditPage = 1000

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireHuman(w, r); !ok {
		return
	}
	if h.Store == nil {
		notConfigured(w, "store")
		return
	}
	q := r.URL.Query()
	filter := ledger.AuditFilter{
		RequestID: q.Get("request_id"),
		Subsystem: q.Get("subsystem"),
		Limit:     100,
	}
	if raw := q.Get("after_seq"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid after_seq")
			return
		}
		filter.AfterSeq = n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxAuditPage {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	events, err := h.Store.ListAuditEvents(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// VerifyAudit checks the whole chain. A broken chain is reported in the
// body with status 200; only a read failure is an error status.
func (h *Handler) VerifyAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireHuman(w, r); !ok {
		return
	}
	if h.Store == nil {
		notConfigured(w, "store")
		return
	}
	events, err := h.Store.ListAuditEvents(r.Context(), ledger.AuditFilter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	report, err := audit.VerifyChain(events, h.Keys)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error(), "report": report})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "report": report})
}
