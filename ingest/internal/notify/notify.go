// Package notify announces quarantine lifecycle changes on the message bus.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/telhawk-systems/ledgersafe/common/logging"
	"github.com/telhawk-systems/ledgersafe/common/messaging"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/metrics"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
)

// ExceptionEvent is the message body published for every lifecycle change.
type ExceptionEvent struct {
	Event          string                 `json:"event"`
	ExceptionID    string                 `json:"exception_id"`
	TenantID       string                 `json:"tenant_id"`
	IdempotencyKey string                 `json:"idempotency_key"`
	ReasonCode     models.ReasonCode      `json:"reason_code"`
	Status         models.ExceptionStatus `json:"status"`
	Assignee       *string                `json:"assignee,omitempty"`
	ResolvedBy     *string                `json:"resolved_by,omitempty"`
	Action         *string                `json:"resolution_action,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
}

// Publisher sends exception events through a messaging.Publisher. Delivery
// is best effort: failures are logged and counted, never returned.
type Publisher struct {
	pub    messaging.Publisher
	logger *logging.Logger
	now    func() time.Time
}

func NewPublisher(pub messaging.Publisher, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Publisher{
		pub:    pub,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (p *Publisher) ExceptionOpened(ctx context.Context, e *models.Exception) {
	p.publish(ctx, messaging.SubjectExceptionsOpened, "opened", e)
}

func (p *Publisher) ExceptionResolved(ctx context.Context, e *models.Exception) {
	p.publish(ctx, messaging.SubjectExceptionsResolved, "resolved", e)
}

func (p *Publisher) ExceptionAssigned(ctx context.Context, e *models.Exception) {
	p.publish(ctx, messaging.SubjectExceptionsAssigned, "assigned", e)
}

func (p *Publisher) publish(ctx context.Context, subject, event string, e *models.Exception) {
	if e == nil {
		return
	}

	body := ExceptionEvent{
		Event:          event,
		ExceptionID:    e.ExceptionID,
		TenantID:       e.TenantID,
		IdempotencyKey: e.IdempotencyKey,
		ReasonCode:     e.ReasonCode,
		Status:         e.Status,
		Assignee:       e.Assignee,
		ResolvedBy:     e.ResolvedBy,
		Action:         e.ResolutionAction,
		OccurredAt:     p.now(),
	}

	data, err := json.Marshal(body)
	if err != nil {
		p.failed(ctx, subject, e, err)
		return
	}

	err = p.pub.PublishMsg(ctx, &messaging.Message{
		Subject:   subject,
		Data:      data,
		Timestamp: body.OccurredAt,
		Metadata: map[string]string{
			"Tenant-Id":    e.TenantID,
			"Exception-Id": e.ExceptionID,
		},
	})
	if err != nil {
		p.failed(ctx, subject, e, err)
		return
	}
	p.logger.DebugContext(ctx, "exception event published",
		logging.ExceptionID(e.ExceptionID),
		logging.TenantID(e.TenantID),
	)
}

func (p *Publisher) failed(ctx context.Context, subject string, e *models.Exception, err error) {
	metrics.NotificationsFailed.WithLabelValues(subject).Inc()
	p.logger.WarnContext(ctx, "exception event not published",
		logging.ExceptionID(e.ExceptionID),
		logging.TenantID(e.TenantID),
		logging.Error(err),
	)
}
