package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/telhawk-systems/ledgersafe/common/httputil"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/metrics"
)

// PostEvent handles POST /v1/events. The response status carries the
// classification: 201 processed, 200 duplicate, 202 quarantined.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes+1))
	if err != nil {
		httputil.WriteJSONAPIValidationError(w, "could not read request body")
		return
	}
	if int64(len(body)) > h.maxBodyBytes {
		metrics.IngestRejected.WithLabelValues("too_large").Inc()
		httputil.WriteJSONAPIError(w, http.StatusRequestEntityTooLarge, "too_large", "Payload Too Large",
			fmt.Sprintf("request body exceeds %d bytes", h.maxBodyBytes))
		return
	}

	req, err := h.svc.Validator().DecodeIngestRequest(body)
	if err != nil {
		metrics.IngestRejected.WithLabelValues("schema").Inc()
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.Ingest(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, res.Outcome.HTTPStatus(), res)
}
