package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/telhawk-systems/ledgersafe/common/httputil"
	"github.com/telhawk-systems/ledgersafe/common/logging"
	"github.com/telhawk-systems/ledgersafe/common/tenantstats"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/dlq"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/service"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/validator"
)

// LedgerService is the engine surface the HTTP layer drives.
type LedgerService interface {
	Validator() *validator.Validator
	Ingest(ctx context.Context, req *models.IngestRequest) (*models.IngestResult, error)
	Resolve(ctx context.Context, req *models.ResolveRequest) (*models.Exception, error)
	Assign(ctx context.Context, exceptionID, assignee, actor string) (*models.Exception, error)
	ListExceptions(ctx context.Context, filter models.ExceptionFilter) ([]models.ExceptionSummary, error)
	GetExceptionDetail(ctx context.Context, exceptionID string) (*models.ExceptionDetail, error)
	GetLedger(ctx context.Context, tenantID, key string) (*models.IdempotencyState, error)
	ListAudit(ctx context.Context, filter models.AuditFilter) ([]service.AuditRecord, error)
	Health(ctx context.Context) *models.HealthReport
	Ready(ctx context.Context) error
}

// StatsReader serves per-tenant usage counters.
type StatsReader interface {
	GetStats(ctx context.Context, tenantID string) (*tenantstats.Stats, error)
}

// DeadLetterReader lists arrivals that never reached the event log.
type DeadLetterReader interface {
	List(ctx context.Context, limit int) ([]dlq.FailedEvent, error)
	Stats(ctx context.Context) map[string]interface{}
}

// Handler serves the ingest and operator API.
type Handler struct {
	svc          LedgerService
	stats        StatsReader
	deadLetters  DeadLetterReader
	logger       *logging.Logger
	maxBodyBytes int64
}

type Option func(*Handler)

// WithStats enables GET /v1/tenants/{tenant}/stats.
func WithStats(r StatsReader) Option {
	return func(h *Handler) { h.stats = r }
}

// WithDeadLetters enables GET /v1/dead-letters.
func WithDeadLetters(r DeadLetterReader) Option {
	return func(h *Handler) { h.deadLetters = r }
}

func WithLogger(l *logging.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) { h.maxBodyBytes = n }
}

func NewHandler(svc LedgerService, opts ...Option) *Handler {
	h := &Handler{
		svc:          svc,
		logger:       logging.Nop(),
		maxBodyBytes: httputil.DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// writeError maps engine errors onto statuses. Anything unrecognised is a
// 500 and is logged with the request id.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validator.ValidationError
	switch {
	case errors.As(err, &verr):
		errs := make([]httputil.JSONAPIErrorObject, 0, len(verr.Errors))
		for _, fe := range verr.Errors {
			obj := httputil.NewJSONAPIError(http.StatusBadRequest, "validation_failed", "Validation Failed", fe.Message)
			if fe.Field != "" {
				obj.Source = map[string]string{"pointer": fe.Field}
			}
			errs = append(errs, obj)
		}
		httputil.WriteJSONAPIErrorResponse(w, http.StatusBadRequest, errs)
	case errors.Is(err, service.ErrInvalidRequest):
		httputil.WriteJSONAPIValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		httputil.WriteJSONAPIError(w, http.StatusNotFound, "not_found", "Resource Not Found", err.Error())
	case errors.Is(err, service.ErrInvalidAction):
		httputil.WriteJSONAPIError(w, http.StatusBadRequest, "invalid_action", "Invalid Action", err.Error())
	case errors.Is(err, service.ErrValidationFailed):
		httputil.WriteJSONAPIError(w, http.StatusUnprocessableEntity, "replay_validation_failed", "Replay Validation Failed", err.Error())
	case errors.Is(err, service.ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		retry := service.RetryAfter(err)
		if retry <= 0 {
			retry = time.Second
		}
		httputil.WriteRetryAfter(w, retry)
		httputil.WriteJSONAPIUnavailableError(w, "temporarily unavailable, retry later")
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			logging.Method(r.Method),
			logging.Path(r.URL.Path),
			logging.Error(err),
		)
		httputil.WriteJSONAPIInternalError(w, "internal error")
	}
}
