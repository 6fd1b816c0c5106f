package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/ledgersafe/common/logging"
	"github.com/telhawk-systems/ledgersafe/common/messaging"
	"github.com/telhawk-systems/ledgersafe/common/messaging/nats"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
)

// Dead-letter reasons.
const (
	ReasonStorageError       = "storage_error"
	ReasonInvariantViolation = "invariant_violation"
)

// ErrDisabled is returned by read operations when no broker is configured.
var ErrDisabled = errors.New("dead-letter queue not enabled")

// FailedEvent is an arrival that never reached the event log.
type FailedEvent struct {
	Timestamp time.Time             `json:"timestamp"`
	Reason    string                `json:"reason"`
	Error     string                `json:"error"`
	TenantID  string                `json:"tenant_id,omitempty"`
	EventID   string                `json:"event_id,omitempty"`
	Request   *models.IngestRequest `json:"request,omitempty"`
}

type publisher interface {
	PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error)
}

// JetStreamQueue writes failed arrivals to NATS JetStream so they survive
// the ingest process and can be resubmitted.
type JetStreamQueue struct {
	pub     publisher
	stream  jetstream.Stream
	logger  *logging.Logger
	now     func() time.Time
	written atomic.Uint64
}

// NewJetStreamQueue creates the DLQ stream if needed and returns a queue
// publishing to it.
func NewJetStreamQueue(ctx context.Context, js *nats.JetStreamClient, logger *logging.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}

	stream, err := js.CreateOrUpdateStream(ctx, nats.IngestDLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	logger.Info("dead-letter stream ready", slog.String("stream", nats.IngestDLQStream.Name))
	return newQueue(js, stream, logger), nil
}

func newQueue(pub publisher, stream jetstream.Stream, logger *logging.Logger) *JetStreamQueue {
	if logger == nil {
		logger = logging.Nop()
	}
	return &JetStreamQueue{
		pub:    pub,
		stream: stream,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Write publishes req on ingest.dlq.<reason>.
func (q *JetStreamQueue) Write(ctx context.Context, reason string, req *models.IngestRequest, cause error) error {
	if q == nil {
		return nil
	}

	failed := FailedEvent{
		Timestamp: q.now(),
		Reason:    reason,
		Request:   req,
	}
	if cause != nil {
		failed.Error = cause.Error()
	}
	if req != nil {
		failed.TenantID = req.TenantID
		failed.EventID = req.EventID
	}

	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	if _, err := q.pub.PublishSync(ctx, messaging.IngestDLQSubject(reason), data); err != nil {
		q.logger.ErrorContext(ctx, "dead-letter publish failed", logging.Reason(reason), logging.Error(err))
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	q.written.Add(1)
	q.logger.WarnContext(ctx, "arrival dead-lettered",
		logging.Reason(reason),
		logging.TenantID(failed.TenantID),
		logging.IdempotencyKey(failed.EventID),
	)
	return nil
}

// Stats describes the stream for the operator surface.
func (q *JetStreamQueue) Stats(ctx context.Context) map[string]interface{} {
	if q == nil {
		return map[string]interface{}{"enabled": false, "backend": "jetstream"}
	}

	stats := map[string]interface{}{
		"enabled":       true,
		"backend":       "jetstream",
		"written_local": q.written.Load(),
	}
	info, err := q.stream.Info(ctx)
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["total_messages"] = info.State.Msgs
	stats["total_bytes"] = info.State.Bytes
	stats["first_seq"] = info.State.FirstSeq
	stats["last_seq"] = info.State.LastSeq
	return stats
}

// List returns up to limit dead-lettered arrivals, oldest first.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]FailedEvent, error) {
	if q == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject:     messaging.SubjectIngestDLQAll,
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch dlq messages: %w", err)
	}

	events := make([]FailedEvent, 0, limit)
	for msg := range batch.Messages() {
		var failed FailedEvent
		if err := json.Unmarshal(msg.Data(), &failed); err != nil {
			q.logger.WarnContext(ctx, "skipping unreadable dlq message", logging.Error(err))
			continue
		}
		events = append(events, failed)
	}
	if err := batch.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) {
		q.logger.WarnContext(ctx, "dlq fetch completed with error", logging.Error(err))
	}
	return events, nil
}

// Purge removes every message from the stream.
func (q *JetStreamQueue) Purge(ctx context.Context) error {
	if q == nil {
		return ErrDisabled
	}
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	q.logger.InfoContext(ctx, "dead-letter stream purged")
	return nil
}
