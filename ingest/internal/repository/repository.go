// Package repository persists the event log, idempotency ledger, quarantine
// queue and audit trail. Every state change happens inside WithinTx so the
// four tables move together.
package repository

import (
	"context"

	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
)

// Store is the entry point to persisted state.
type Store interface {
	// WithinTx runs fn in one transaction. fn's error rolls everything back.
	// Retryable failures surface as ErrConflict or ErrSerialization; a
	// bounded lock wait surfaces as ErrLockTimeout.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListExceptions(ctx context.Context, filter models.ExceptionFilter) ([]*models.Exception, error)
	GetException(ctx context.Context, exceptionID string) (*models.Exception, error)
	GetRawEvent(ctx context.Context, rawID int64) (*models.RawEvent, error)
	GetLedger(ctx context.Context, tenantID, key string) (*models.IdempotencyState, error)
	HealthCounters(ctx context.Context) (*models.HealthCounters, error)
	ListAudit(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error)

	Ping(ctx context.Context) error
	Close()
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	// InsertRawEvent appends ev and fills RawID and ReceivedAt.
	InsertRawEvent(ctx context.Context, ev *models.RawEvent) error
	GetRawEvent(ctx context.Context, rawID int64) (*models.RawEvent, error)

	// GetLedgerForUpdate locks the ledger row until the transaction ends.
	// Returns ErrNotFound when the key has never been seen.
	GetLedgerForUpdate(ctx context.Context, tenantID, key string) (*models.IdempotencyState, error)
	// InsertLedger returns ErrConflict when a concurrent transaction created
	// the row first.
	InsertLedger(ctx context.Context, s *models.IdempotencyState) error
	UpdateLedger(ctx context.Context, s *models.IdempotencyState) error

	// InsertException returns ErrConflict when the key already has an open
	// record.
	InsertException(ctx context.Context, e *models.Exception) error
	// GetException reads without locking, for callers that must take the
	// ledger lock before the exception lock.
	GetException(ctx context.Context, exceptionID string) (*models.Exception, error)
	GetExceptionForUpdate(ctx context.Context, exceptionID string) (*models.Exception, error)
	GetOpenExceptionForKey(ctx context.Context, tenantID, key string) (*models.Exception, error)
	UpdateException(ctx context.Context, e *models.Exception) error

	InsertAudit(ctx context.Context, e *models.AuditEntry) error
}
