package service

import (
	"context"

	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
)

// Notifier announces quarantine lifecycle changes after commit. Failures are
// the notifier's concern; the engine does not wait on delivery.
type Notifier interface {
	ExceptionOpened(ctx context.Context, e *models.Exception)
	ExceptionResolved(ctx context.Context, e *models.Exception)
	ExceptionAssigned(ctx context.Context, e *models.Exception)
}

// StatsRecorder counts outcomes per tenant.
type StatsRecorder interface {
	Record(tenantID, outcome string)
}

// DeadLetterWriter captures arrivals that could not be recorded at all.
type DeadLetterWriter interface {
	Write(ctx context.Context, reason string, req *models.IngestRequest, cause error) error
}

type noopNotifier struct{}

func (noopNotifier) ExceptionOpened(context.Context, *models.Exception) {}
func (noopNotifier) ExceptionResolved(context.Context, *models.Exception) {}
func (noopNotifier) ExceptionAssigned(context.Context, *models.Exception) {}

type noopStats struct{}

func (noopStats) Record(string, string) {}

type noopDeadLetter struct{}

func (noopDeadLetter) Write(context.Context, string, *models.IngestRequest, error) error { return nil }
