package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/ledgersafe/common/logging"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/audit"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/hashing"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/metrics"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/repository"
)

// decision is what one attempt of the ingest transaction produced.
type decision struct {
	result *models.IngestResult
	opened *models.Exception
}

// Ingest records req in the event log and classifies it against the
// idempotency ledger, in one transaction.
func (s *Service) Ingest(ctx context.Context, req *models.IngestRequest) (*models.IngestResult, error) {
	if err := checkIngestRequest(req); err != nil {
		metrics.IngestRejected.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	hash, err := hashing.NewContent(req.EventType, req.StoreID, req.TxnID, storedTime(req.OccurredAt), req.Payload).Hash()
	if err != nil {
		metrics.IngestRejected.WithLabelValues("unhashable").Inc()
		return nil, invalidRequest("payload: %v", err)
	}

	var d *decision
	err = s.runTx(ctx, "ingest", func(ctx context.Context, tx repository.Tx) error {
		var err error
		d, err = s.decide(ctx, tx, req, hash)
		return err
	})
	if err != nil {
		return nil, s.ingestFailed(ctx, req, err)
	}

	res := d.result
	reason := ""
	if res.ReasonCode != nil {
		reason = string(*res.ReasonCode)
	}
	metrics.IngestOutcomes.WithLabelValues(string(res.Outcome), reason).Inc()
	metrics.IngestEventBytes.Add(float64(len(req.Payload)))
	s.stats.Record(req.TenantID, string(res.Outcome))
	if d.opened != nil {
		s.notifier.ExceptionOpened(ctx, d.opened)
	}

	attrs := []any{
		logging.TenantID(req.TenantID),
		logging.IdempotencyKey(res.IdempotencyKey),
		logging.RawID(res.RawID),
		logging.Outcome(string(res.Outcome)),
	}
	if res.ExceptionID != nil {
		attrs = append(attrs, logging.ExceptionID(*res.ExceptionID), logging.Reason(reason))
	}
	if res.Outcome == models.OutcomeDuplicate {
		s.logger.DebugContext(ctx, "event classified", attrs...)
	} else {
		s.logger.InfoContext(ctx, "event classified", attrs...)
	}

	return res, nil
}

// ingestFailed logs a failed ingest and dead-letters it when retrying will
// not help.
func (s *Service) ingestFailed(ctx context.Context, req *models.IngestRequest, err error) error {
	attrs := []any{
		logging.TenantID(req.TenantID),
		logging.IdempotencyKey(req.IdempotencyKey()),
		logging.Error(err),
	}

	if errors.Is(err, ErrTransient) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.WarnContext(ctx, "ingest not recorded", attrs...)
		return err
	}

	reason := "storage_error"
	if errors.Is(err, ErrInvariant) {
		reason = "invariant_violation"
		metrics.InvariantViolations.WithLabelValues("ingest").Inc()
	}
	s.logger.ErrorContext(ctx, "ingest failed", attrs...)

	if dlqErr := s.deadLetter.Write(context.WithoutCancel(ctx), reason, req, err); dlqErr != nil {
		s.logger.ErrorContext(ctx, "dead letter write failed", logging.Error(dlqErr))
	} else {
		metrics.DeadLettered.WithLabelValues(reason).Inc()
	}
	return fmt.Errorf("ingest: %w", err)
}

func checkIngestRequest(req *models.IngestRequest) error {
	if req == nil {
		return invalidRequest("missing event")
	}
	required := []struct {
		name  string
		value string
	}{
		{"tenant_id", req.TenantID},
		{"store_id", req.StoreID},
		{"source_system", req.SourceSystem},
		{"schema_version", req.SchemaVersion},
		{"event_id", req.EventID},
		{"event_type", req.EventType},
		{"txn_id", req.TxnID},
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if req.OccurredAt.IsZero() {
		missing = append(missing, "occurred_at")
	}
	if len(missing) > 0 {
		return invalidRequest("missing required fields: %s", strings.Join(missing, ", "))
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(req.Payload, &obj); err != nil || obj == nil {
		return invalidRequest("payload must be a JSON object")
	}
	return nil
}

// storedTime is t at the precision the event log keeps, so a hash
// recomputed from a stored row matches the one taken at ingest.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func (s *Service) decide(ctx context.Context, tx repository.Tx, req *models.IngestRequest, hash string) (*decision, error) {
	raw := &models.RawEvent{
		TenantID:      req.TenantID,
		StoreID:       req.StoreID,
		SourceSystem:  req.SourceSystem,
		SchemaVersion: req.SchemaVersion,
		OccurredAt:    storedTime(req.OccurredAt),
		EventID:       req.EventID,
		SourceEventID: req.SourceEventID,
		EventType:     req.EventType,
		TxnID:         req.TxnID,
		PayloadHash:   hash,
		Payload:       req.Payload,
	}
	if err := tx.InsertRawEvent(ctx, raw); err != nil {
		return nil, err
	}

	state, err := tx.GetLedgerForUpdate(ctx, req.TenantID, req.IdempotencyKey())
	if errors.Is(err, repository.ErrNotFound) {
		return s.firstSeen(ctx, tx, raw)
	}
	if err != nil {
		return nil, err
	}

	switch state.Status {
	case models.LedgerProcessed:
		return s.seenProcessed(ctx, tx, state, raw)
	case models.LedgerQuarantined:
		return s.seenQuarantined(ctx, tx, state, raw)
	case models.LedgerIgnored:
		return s.seenIgnored(ctx, tx, state, raw)
	default:
		return nil, invariant("ledger %s has unknown status %q", state.ObjectID(), state.Status)
	}
}

func (s *Service) firstSeen(ctx context.Context, tx repository.Tx, raw *models.RawEvent) (*decision, error) {
	state := &models.IdempotencyState{
		TenantID:         raw.TenantID,
		IdempotencyKey:   raw.EventID,
		FirstSeenAt:      raw.ReceivedAt,
		LastSeenAt:       raw.ReceivedAt,
		FirstRawID:       raw.RawID,
		LastRawID:        raw.RawID,
		FirstPayloadHash: raw.PayloadHash,
		LastPayloadHash:  raw.PayloadHash,
	}

	if s.validator.IsAllowedEventType(raw.EventType) {
		state.Status = models.LedgerProcessed
		state.AppliedPayloadHash = models.StringPtr(raw.PayloadHash)
		state.ProcessedAt = models.TimePtr(raw.ReceivedAt)
		if err := tx.InsertLedger(ctx, state); err != nil {
			return nil, err
		}
		if err := s.auditLedger(ctx, tx, models.AuditActionProcessed, nil, state, ""); err != nil {
			return nil, err
		}
		return &decision{result: &models.IngestResult{
			Outcome:        models.OutcomeProcessed,
			RawID:          raw.RawID,
			IdempotencyKey: raw.EventID,
		}}, nil
	}

	exc, err := s.newException(raw, models.ReasonUnknownEventType, models.ConflictDetails{
		EventType:        raw.EventType,
		FirstRawID:       raw.RawID,
		FirstPayloadHash: raw.PayloadHash,
		IncomingRawID:    raw.RawID,
		IncomingHash:     raw.PayloadHash,
		AllowedTypes:     s.validator.AllowedEventTypes(),
	})
	if err != nil {
		return nil, err
	}
	state.Status = models.LedgerQuarantined
	state.LastErrorCode = models.StringPtr(string(exc.ReasonCode))
	state.ExceptionID = models.StringPtr(exc.ExceptionID)

	if err := tx.InsertLedger(ctx, state); err != nil {
		return nil, err
	}
	return s.quarantine(ctx, tx, nil, state, raw, exc)
}

func (s *Service) seenProcessed(ctx context.Context, tx repository.Tx, state *models.IdempotencyState, raw *models.RawEvent) (*decision, error) {
	applied := state.FirstPayloadHash
	if state.AppliedPayloadHash != nil {
		applied = *state.AppliedPayloadHash
	}

	before := state.Clone()
	state.Observe(raw)

	if raw.PayloadHash == applied {
		if err := tx.UpdateLedger(ctx, state); err != nil {
			return nil, err
		}
		return &decision{result: &models.IngestResult{
			Outcome:        models.OutcomeDuplicate,
			RawID:          raw.RawID,
			IdempotencyKey: raw.EventID,
		}}, nil
	}

	open, err := tx.GetOpenExceptionForKey(ctx, state.TenantID, state.IdempotencyKey)
	switch {
	case err == nil:
		// A processed key should never have an open record. Point the
		// ledger at it rather than open a second one.
		s.logger.WarnContext(ctx, "processed key already has an open exception",
			logging.TenantID(state.TenantID),
			logging.IdempotencyKey(state.IdempotencyKey),
			logging.ExceptionID(open.ExceptionID),
		)
		state.Status = models.LedgerQuarantined
		state.LastErrorCode = models.StringPtr(string(open.ReasonCode))
		state.ExceptionID = models.StringPtr(open.ExceptionID)
		if err := tx.UpdateLedger(ctx, state); err != nil {
			return nil, err
		}
		if err := s.auditLedger(ctx, tx, models.AuditActionQuarantined, before, state, string(open.ReasonCode)); err != nil {
			return nil, err
		}
		return &decision{result: quarantinedResult(raw, open)}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	return s.conflict(ctx, tx, before, state, raw, applied)
}

func (s *Service) seenQuarantined(ctx context.Context, tx repository.Tx, state *models.IdempotencyState, raw *models.RawEvent) (*decision, error) {
	open, err := tx.GetOpenExceptionForKey(ctx, state.TenantID, state.IdempotencyKey)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, invariant("ledger %s is quarantined without an open exception", state.ObjectID())
	}
	if err != nil {
		return nil, err
	}

	sameAsLast := raw.PayloadHash == state.LastPayloadHash
	before := state.Clone()
	state.Observe(raw)
	state.LastErrorCode = models.StringPtr(models.ClassificationAlreadyQuarantined)
	if err := tx.UpdateLedger(ctx, state); err != nil {
		return nil, err
	}

	res := quarantinedResult(raw, open)
	res.Classification = models.ClassificationAlreadyQuarantined
	if sameAsLast {
		res.Outcome = models.OutcomeDuplicate
		return &decision{result: res}, nil
	}

	if err := s.auditLedger(ctx, tx, models.AuditActionAlreadyQuarantined, before, state, open.ExceptionID); err != nil {
		return nil, err
	}
	return &decision{result: res}, nil
}

func (s *Service) seenIgnored(ctx context.Context, tx repository.Tx, state *models.IdempotencyState, raw *models.RawEvent) (*decision, error) {
	last := state.LastPayloadHash
	before := state.Clone()
	state.Observe(raw)

	if raw.PayloadHash == last {
		if err := tx.UpdateLedger(ctx, state); err != nil {
			return nil, err
		}
		return &decision{result: &models.IngestResult{
			Outcome:        models.OutcomeDuplicate,
			RawID:          raw.RawID,
			IdempotencyKey: raw.EventID,
		}}, nil
	}

	return s.conflict(ctx, tx, before, state, raw, last)
}

// conflict opens an IDEMPOTENCY_CONFLICT record for raw and moves the
// ledger to quarantined. state has already observed raw.
func (s *Service) conflict(ctx context.Context, tx repository.Tx, before, state *models.IdempotencyState, raw *models.RawEvent, comparedHash string) (*decision, error) {
	exc, err := s.newException(raw, models.ReasonIdempotencyConflict, models.ConflictDetails{
		EventType:        raw.EventType,
		PreviousStatus:   before.Status,
		FirstRawID:       state.FirstRawID,
		FirstPayloadHash: state.FirstPayloadHash,
		IncomingRawID:    raw.RawID,
		IncomingHash:     raw.PayloadHash,
		AppliedHash:      comparedHash,
	})
	if err != nil {
		return nil, err
	}

	state.Status = models.LedgerQuarantined
	state.LastErrorCode = models.StringPtr(string(exc.ReasonCode))
	state.ExceptionID = models.StringPtr(exc.ExceptionID)
	if err := tx.UpdateLedger(ctx, state); err != nil {
		return nil, err
	}
	return s.quarantine(ctx, tx, before, state, raw, exc)
}

// quarantine inserts exc and audits the ledger transition.
func (s *Service) quarantine(ctx context.Context, tx repository.Tx, before, state *models.IdempotencyState, raw *models.RawEvent, exc *models.Exception) (*decision, error) {
	if err := tx.InsertException(ctx, exc); err != nil {
		return nil, err
	}
	if err := s.auditLedger(ctx, tx, models.AuditActionQuarantined, before, state, string(exc.ReasonCode)); err != nil {
		return nil, err
	}
	return &decision{result: quarantinedResult(raw, exc), opened: exc}, nil
}

func (s *Service) newException(raw *models.RawEvent, reason models.ReasonCode, details models.ConflictDetails) (*models.Exception, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("exception id: %w", err)
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("exception details: %w", err)
	}
	return &models.Exception{
		ExceptionID:    id.String(),
		TenantID:       raw.TenantID,
		RawID:          raw.RawID,
		IdempotencyKey: raw.EventID,
		ReasonCode:     reason,
		Details:        b,
		Status:         models.ExceptionOpen,
		CreatedAt:      raw.ReceivedAt,
	}, nil
}

func (s *Service) auditLedger(ctx context.Context, tx repository.Tx, action string, before, after *models.IdempotencyState, notes string) error {
	_, err := s.audit.Record(ctx, tx, audit.Entry{
		Actor:      models.ActorSystem,
		Action:     action,
		ObjectType: models.ObjectTypeLedger,
		ObjectID:   after.ObjectID(),
		Before:     before,
		After:      after,
		Notes:      notes,
	})
	return err
}

func quarantinedResult(raw *models.RawEvent, exc *models.Exception) *models.IngestResult {
	res := &models.IngestResult{
		Outcome:        models.OutcomeQuarantined,
		RawID:          raw.RawID,
		IdempotencyKey: raw.EventID,
		ExceptionID:    models.StringPtr(exc.ExceptionID),
	}
	reason := exc.ReasonCode
	res.ReasonCode = &reason
	return res
}
