package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/telhawk-systems/ledgersafe/common/httputil"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/auth"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/service"
)

// exceptionList carries the page under both items and exceptions; older
// console builds read items.
type exceptionList struct {
	Items      []models.ExceptionSummary `json:"items"`
	Exceptions []models.ExceptionSummary `json:"exceptions"`
	Count      int                       `json:"count"`
	Limit      int                       `json:"limit"`
	Offset     int                       `json:"offset"`
}

// ListExceptions handles GET /v1/exceptions?status=open|resolved|all.
func (h *Handler) ListExceptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ExceptionFilter{TenantID: q.Get("tenant_id")}

	switch status := q.Get("status"); status {
	case "", "open":
		filter.Status = models.ExceptionOpen
	case "resolved":
		filter.Status = models.ExceptionResolved
	case "all":
	default:
		httputil.WriteJSONAPIValidationError(w, "status must be open, resolved or all")
		return
	}

	page := httputil.ParsePage(r, service.DefaultListLimit, service.MaxListLimit)
	filter.Limit, filter.Offset = page.Limit, page.Offset

	rows, err := h.svc.ListExceptions(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exceptionList{
		Items:      rows,
		Exceptions: rows,
		Count:      len(rows),
		Limit:      page.Limit,
		Offset:     page.Offset,
	})
}

// GetException handles GET /v1/exceptions/{id}.
func (h *Handler) GetException(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetExceptionDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

type resolveBody struct {
	Action         string          `json:"action"`
	Actor          string          `json:"actor"`
	Notes          string          `json:"resolution_notes"`
	OverridePatch  json.RawMessage `json:"override_patch,omitempty"`
	CanonicalRawID *int64          `json:"canonical_raw_id,omitempty"`
}

// ResolveException handles POST /v1/exceptions/{id}/resolve. With operator
// auth enabled the token subject replaces the body's actor.
func (h *Handler) ResolveException(w http.ResponseWriter, r *http.Request) {
	var body resolveBody
	if err := httputil.DecodeJSON(r, &body, h.maxBodyBytes); err != nil {
		httputil.WriteJSONAPIValidationError(w, err.Error())
		return
	}

	patch := body.OverridePatch
	if string(patch) == "null" {
		patch = nil
	}

	exc, err := h.svc.Resolve(r.Context(), &models.ResolveRequest{
		ExceptionID:   r.PathValue("id"),
		Actor:         auth.Actor(r.Context(), body.Actor),
		Notes:         body.Notes,
		Action:        body.Action,
		ChosenRawID:   body.CanonicalRawID,
		OverridePatch: patch,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exc)
}

type assignBody struct {
	Assignee string `json:"assignee"`
	Actor    string `json:"actor"`
}

// AssignException handles POST /v1/exceptions/{id}/assign.
func (h *Handler) AssignException(w http.ResponseWriter, r *http.Request) {
	var body assignBody
	if err := httputil.DecodeJSON(r, &body, h.maxBodyBytes); err != nil {
		httputil.WriteJSONAPIValidationError(w, err.Error())
		return
	}

	exc, err := h.svc.Assign(r.Context(), r.PathValue("id"), body.Assignee, auth.Actor(r.Context(), body.Actor))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exc)
}
