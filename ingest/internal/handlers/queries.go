package handlers

import (
	"net/http"

	"github.com/telhawk-systems/ledgersafe/common/httputil"
	"github.com/telhawk-systems/ledgersafe/common/logging"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/dlq"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/service"
)

// ListAudit handles GET /v1/audit.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := httputil.ParsePage(r, service.DefaultListLimit, service.MaxListLimit)

	entries, err := h.svc.ListAudit(r.Context(), models.AuditFilter{
		ObjectType: q.Get("object_type"),
		ObjectID:   q.Get("object_id"),
		Limit:      page.Limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// GetLedger handles GET /v1/ledger/{tenant}/{key}.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetLedger(r.Context(), r.PathValue("tenant"), r.PathValue("key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

// TenantStats handles GET /v1/tenants/{tenant}/stats.
func (h *Handler) TenantStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		httputil.WriteJSONAPIError(w, http.StatusNotImplemented, "not_enabled", "Not Enabled", "tenant stats are not configured")
		return
	}
	stats, err := h.stats.GetStats(r.Context(), r.PathValue("tenant"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// DeadLetters handles GET /v1/dead-letters.
func (h *Handler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.deadLetters == nil {
		httputil.WriteJSONAPIError(w, http.StatusNotImplemented, "not_enabled", "Not Enabled", "dead-letter queue is not configured")
		return
	}
	page := httputil.ParsePage(r, 100, 1000)
	events, err := h.deadLetters.List(r.Context(), page.Limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []dlq.FailedEvent{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"stats":  h.deadLetters.Stats(r.Context()),
	})
}

// Health handles GET /v1/health. It always answers 200; a storage failure
// shows up as status "degraded".
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.svc.Health(r.Context()))
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz is the readiness probe; it pings storage.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ready(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "not ready", logging.Error(err))
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
