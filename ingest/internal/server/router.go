package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/ledgersafe/common/middleware"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/auth"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/handlers"
)

// NewRouter constructs a ServeMux with the ledger API registered. Operator
// write endpoints go through verifier; a nil or disabled verifier leaves
// them open.
func NewRouter(h *handlers.Handler, verifier *auth.Verifier, cors middleware.CORSConfig) http.Handler {
	mux := http.NewServeMux()

	// Producers
	mux.HandleFunc("POST /v1/events", h.PostEvent)

	// Operator console
	mux.HandleFunc("GET /v1/exceptions", h.ListExceptions)
	mux.HandleFunc("GET /v1/exceptions/{id}", h.GetException)
	mux.HandleFunc("POST /v1/exceptions/{id}/resolve", verifier.Require(h.ResolveException))
	mux.HandleFunc("POST /v1/exceptions/{id}/assign", verifier.Require(h.AssignException))
	mux.HandleFunc("GET /v1/audit", h.ListAudit)
	mux.HandleFunc("GET /v1/ledger/{tenant}/{key}", h.GetLedger)
	mux.HandleFunc("GET /v1/tenants/{tenant}/stats", h.TenantStats)
	mux.HandleFunc("GET /v1/dead-letters", verifier.Require(h.DeadLetters))
	mux.HandleFunc("GET /v1/health", h.Health)

	// Health endpoints
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(middleware.CORS(cors)(mux))
}
