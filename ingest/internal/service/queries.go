package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/telhawk-systems/ledgersafe/common/logging"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/repository"
)

// Paging limits for operator listings.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// ListExceptions returns the quarantine queue, oldest first.
func (s *Service) ListExceptions(ctx context.Context, filter models.ExceptionFilter) ([]models.ExceptionSummary, error) {
	switch filter.Status {
	case "", models.ExceptionOpen, models.ExceptionResolved:
	default:
		return nil, invalidRequest("unknown status %q", filter.Status)
	}
	if filter.Offset < 0 {
		return nil, invalidRequest("offset must not be negative")
	}
	filter.Limit = clampLimit(filter.Limit)

	rows, err := s.store.ListExceptions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	out := make([]models.ExceptionSummary, 0, len(rows))
	for _, e := range rows {
		out = append(out, e.Summary())
	}
	return out, nil
}

// ListOpenExceptions is ListExceptions restricted to open records.
func (s *Service) ListOpenExceptions(ctx context.Context, tenantID string, limit, offset int) ([]models.ExceptionSummary, error) {
	return s.ListExceptions(ctx, models.ExceptionFilter{
		TenantID: tenantID,
		Status:   models.ExceptionOpen,
		Limit:    limit,
		Offset:   offset,
	})
}

// GetExceptionDetail returns a record with the triggering, first and last
// event records of its key.
func (s *Service) GetExceptionDetail(ctx context.Context, exceptionID string) (*models.ExceptionDetail, error) {
	if strings.TrimSpace(exceptionID) == "" {
		return nil, invalidRequest("exception_id is required")
	}

	exc, err := s.store.GetException(ctx, exceptionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: exception %s", ErrNotFound, exceptionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get exception: %w", err)
	}

	detail := &models.ExceptionDetail{Exception: exc}

	if detail.RawEvent, err = s.store.GetRawEvent(ctx, exc.RawID); err != nil {
		return nil, invariant("exception %s references missing event %d", exc.ExceptionID, exc.RawID)
	}

	state, err := s.store.GetLedger(ctx, exc.TenantID, exc.IdempotencyKey)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.logger.WarnContext(ctx, "exception without ledger row", logging.ExceptionID(exc.ExceptionID))
		return detail, nil
	case err != nil:
		return nil, fmt.Errorf("get ledger: %w", err)
	}
	detail.Ledger = state

	if detail.FirstRawEvent, err = s.rawEvent(ctx, state.FirstRawID, detail.RawEvent); err != nil {
		return nil, err
	}
	if detail.LastRawEvent, err = s.rawEvent(ctx, state.LastRawID, detail.RawEvent); err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *Service) rawEvent(ctx context.Context, rawID int64, known *models.RawEvent) (*models.RawEvent, error) {
	if known != nil && known.RawID == rawID {
		return known, nil
	}
	ev, err := s.store.GetRawEvent(ctx, rawID)
	if err != nil {
		return nil, fmt.Errorf("get raw event %d: %w", rawID, err)
	}
	return ev, nil
}

// GetLedger returns the idempotency state of one key.
func (s *Service) GetLedger(ctx context.Context, tenantID, key string) (*models.IdempotencyState, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(key) == "" {
		return nil, invalidRequest("tenant_id and idempotency key are required")
	}
	st, err := s.store.GetLedger(ctx, tenantID, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, models.LedgerObjectID(tenantID, key))
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger: %w", err)
	}
	return st, nil
}

// Health reports current table counters. A storage failure degrades the
// report instead of failing it.
func (s *Service) Health(ctx context.Context) *models.HealthReport {
	hc, err := s.HealthCounters(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "health counters unavailable", logging.Error(err))
		cause := err
		var te *TransientError
		if errors.As(err, &te) {
			cause = te.Err
		}
		return &models.HealthReport{
			Status: "degraded",
			DB:     "error",
			Error:  cause.Error(),
		}
	}
	return &models.HealthReport{
		Status: "ok",
		DB:     "ok",
		DBTime: models.TimePtr(hc.DBTime),
		Counts: hc,
	}
}

// HealthCounters returns the raw counters. A storage failure is transient.
func (s *Service) HealthCounters(ctx context.Context) (*models.HealthCounters, error) {
	hc, err := s.store.HealthCounters(ctx)
	if err != nil {
		return nil, &TransientError{Op: "health", RetryAfter: s.cfg.RetryAfter, Err: err}
	}
	return hc, nil
}

// AuditRecord is an audit entry with its signature check.
type AuditRecord struct {
	*models.AuditEntry
	Verified bool `json:"verified"`
}

// ListAudit returns audit entries newest first.
func (s *Service) ListAudit(ctx context.Context, filter models.AuditFilter) ([]AuditRecord, error) {
	filter.Limit = clampLimit(filter.Limit)
	entries, err := s.store.ListAudit(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	out := make([]AuditRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditRecord{AuditEntry: e, Verified: s.audit.Verify(e)})
	}
	return out, nil
}

// Ready reports whether storage is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}
