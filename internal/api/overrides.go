package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/davidahmann/steward/internal/auth"
	"github.com/davidahmann/steward/internal/override"
)

type grantBody struct {
	ActionID string `json:"action_id"`
	Action   string `json:"action"`
	Category string `json:"category"`
	Reason   string `json:"reason"`
	Agent    string `json:"agent"`
}

// GrantOverride records a dual-control override. The caller is the
// requester; the approver authenticates through the approver header.
func (h *Handler) GrantOverride(w http.ResponseWriter, r *http.Request) {
	requester, ok := h.requireHuman(w, r)
	if !ok {
		return
	}
	if h.Guard == nil {
		notConfigured(w, "override guard")
		return
	}
	approver, err := h.Auth.AuthenticateApprover(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "approver: "+err.Error())
		return
	}
	if !approver.IsHuman() {
		writeError(w, http.StatusForbidden, "approver: "+auth.ErrForbidden.Error())
		return
	}
	var body grantBody
	if !decodeJSON(w, r, &body) {
		return
	}

	rec, err := h.Guard.Grant(r.Context(), override.GrantRequest{
		ActionID:    body.ActionID,
		Action:      body.Action,
		Category:    body.Category,
		Reason:      body.Reason,
		RequestedBy: requester.Subject,
		ApprovedBy:  approver.Subject,
		Agent:       body.Agent,
	})
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) OverrideReview(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}
	if h.Council == nil {
		notConfigured(w, "council")
		return
	}
	summary, err := h.Council.RunOverrideReview(r.Context())
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type feedbackBody struct {
	ActionID string `json:"action_id"`
	Comment  string `json:"comment"`
}

func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if h.Council == nil {
		notConfigured(w, "council")
		return
	}
	var body feedbackBody
	if !decodeJSON(w, r, &body) {
		return
	}
	flag, err := h.Council.SubmitFeedback(r.Context(), body.ActionID, body.Comment, id.Subject)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, flag)
}

type resolveBody struct {
	Note string `json:"note"`
}

func (h *Handler) ResolveFlag(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireHuman(w, r)
	if !ok {
		return
	}
	if h.Council == nil {
		notConfigured(w, "council")
		return
	}
	var body resolveBody
	if !decodeJSON(w, r, &body) {
		return
	}
	res, err := h.Council.ResolveFlag(r.Context(), chi.URLParam(r, "flag_id"), id.Subject, body.Note)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type voteBody struct {
	Version string `json:"version"`
	Vote    string `json:"vote"`
}

func (h *Handler) CastVote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireHuman(w, r)
	if !ok {
		return
	}
	if h.Council == nil {
		notConfigured(w, "council")
		return
	}
	var body voteBody
	if !decodeJSON(w, r, &body) {
		return
	}
	vote, err := h.Council.CastVote(r.Context(), body.Version, body.Vote, id.Subject)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, vote)
}

func (h *Handler) SummarizeVotes(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}
	if h.Council == nil {
		notConfigured(w, "council")
		return
	}
	tally, err := h.Council.SummarizeVotes(r.Context(), chi.URLParam(r, "version"))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tally)
}
