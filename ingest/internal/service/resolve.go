package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/telhawk-systems/ledgersafe/common/logging"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/audit"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/hashing"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/metrics"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/patch"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/repository"
)

// resolutionSnapshot is the audit before/after image of a resolution.
type resolutionSnapshot struct {
	Exception      *models.Exception        `json:"exception"`
	Ledger         *models.IdempotencyState `json:"events_processed"`
	EventType      string                   `json:"event_type,omitempty"`
	CanonicalRawID int64                    `json:"canonical_raw_id,omitempty"`
	Payload        json.RawMessage          `json:"payload,omitempty"`
}

// Resolve closes an open exception. resolve_no_replay moves the key to
// ignored; resolve_and_replay re-validates the canonical event (with the
// optional merge patch applied) and moves the key to processed.
func (s *Service) Resolve(ctx context.Context, req *models.ResolveRequest) (*models.Exception, error) {
	action, err := checkResolveRequest(req)
	if err != nil {
		metrics.Resolutions.WithLabelValues("invalid", "rejected").Inc()
		return nil, err
	}

	var resolved *models.Exception
	err = s.runTx(ctx, "resolve", func(ctx context.Context, tx repository.Tx) error {
		exc, state, err := s.lockOpenException(ctx, tx, req.ExceptionID)
		if err != nil {
			return err
		}
		switch action {
		case models.ActionResolveNoReplay:
			resolved, err = s.resolveNoReplay(ctx, tx, req, exc, state)
		case models.ActionResolveAndReplay:
			resolved, err = s.resolveAndReplay(ctx, tx, req, exc, state)
		}
		return err
	})
	if err != nil {
		result := "error"
		switch {
		case errors.Is(err, ErrNotFound):
			result = "not_found"
		case errors.Is(err, ErrValidationFailed), errors.Is(err, ErrInvalidRequest):
			result = "rejected"
		case errors.Is(err, ErrTransient):
			result = "transient"
		case errors.Is(err, ErrInvariant):
			metrics.InvariantViolations.WithLabelValues("resolve").Inc()
			s.logger.ErrorContext(ctx, "resolution failed",
				logging.ExceptionID(req.ExceptionID),
				logging.Actor(req.Actor),
				logging.Error(err),
			)
		}
		metrics.Resolutions.WithLabelValues(string(action), result).Inc()
		return nil, err
	}

	metrics.Resolutions.WithLabelValues(string(action), "resolved").Inc()
	s.notifier.ExceptionResolved(ctx, resolved)
	s.logger.InfoContext(ctx, "exception resolved",
		logging.TenantID(resolved.TenantID),
		logging.IdempotencyKey(resolved.IdempotencyKey),
		logging.ExceptionID(resolved.ExceptionID),
		logging.Action(string(action)),
		logging.Actor(req.Actor),
	)
	return resolved, nil
}

func checkResolveRequest(req *models.ResolveRequest) (models.ResolutionAction, error) {
	if req == nil {
		return "", invalidRequest("missing resolution")
	}
	if strings.TrimSpace(req.ExceptionID) == "" {
		return "", invalidRequest("exception_id is required")
	}
	action, ok := models.ParseResolutionAction(req.Action)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, req.Action)
	}
	if strings.TrimSpace(req.Actor) == "" {
		return "", invalidRequest("actor is required")
	}
	if strings.TrimSpace(req.Notes) == "" {
		return "", invalidRequest("resolution_notes is required")
	}
	if action == models.ActionResolveNoReplay && (req.ChosenRawID != nil || !patch.IsEmpty(req.OverridePatch)) {
		return "", fmt.Errorf("%w: %s does not take canonical_raw_id or override_patch", ErrInvalidAction, action)
	}
	if err := patch.Validate(req.OverridePatch); err != nil {
		return "", invalidRequest("%v", err)
	}
	return action, nil
}

// lockOpenException locks the ledger row before the exception row, the same
// order the decision engine uses.
func (s *Service) lockOpenException(ctx context.Context, tx repository.Tx, exceptionID string) (*models.Exception, *models.IdempotencyState, error) {
	peek, err := tx.GetException(ctx, exceptionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: exception %s", ErrNotFound, exceptionID)
	}
	if err != nil {
		return nil, nil, err
	}

	state, err := tx.GetLedgerForUpdate(ctx, peek.TenantID, peek.IdempotencyKey)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, invariant("exception %s has no ledger row", exceptionID)
	}
	if err != nil {
		return nil, nil, err
	}

	exc, err := tx.GetExceptionForUpdate(ctx, exceptionID)
	if err != nil {
		return nil, nil, err
	}
	if exc.Status != models.ExceptionOpen {
		return nil, nil, fmt.Errorf("%w: exception %s is not open", ErrNotFound, exceptionID)
	}
	if state.Status != models.LedgerQuarantined {
		return nil, nil, invariant("open exception %s but ledger %s is %s", exceptionID, state.ObjectID(), state.Status)
	}
	return exc, state, nil
}

func (s *Service) resolveNoReplay(ctx context.Context, tx repository.Tx, req *models.ResolveRequest, exc *models.Exception, state *models.IdempotencyState) (*models.Exception, error) {
	before := resolutionSnapshot{Exception: exc.Clone(), Ledger: state.Clone()}

	s.close(exc, req, models.ActionResolveNoReplay)
	state.Status = models.LedgerIgnored

	if err := tx.UpdateException(ctx, exc); err != nil {
		return nil, err
	}
	if err := tx.UpdateLedger(ctx, state); err != nil {
		return nil, err
	}

	after := resolutionSnapshot{Exception: exc, Ledger: state}
	if err := s.auditResolution(ctx, tx, req, models.AuditActionResolveNoReplay, before, after); err != nil {
		return nil, err
	}
	return exc, nil
}

func (s *Service) resolveAndReplay(ctx context.Context, tx repository.Tx, req *models.ResolveRequest, exc *models.Exception, state *models.IdempotencyState) (*models.Exception, error) {
	rawID := exc.RawID
	if req.ChosenRawID != nil {
		rawID = *req.ChosenRawID
	}
	raw, err := tx.GetRawEvent(ctx, rawID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, invalidRequest("canonical event %d does not exist", rawID)
	}
	if err != nil {
		return nil, err
	}
	if raw.TenantID != exc.TenantID || raw.EventID != exc.IdempotencyKey {
		return nil, invalidRequest("canonical event %d belongs to a different idempotency key", rawID)
	}

	effective, err := patch.Apply(raw.Payload, req.OverridePatch)
	if err != nil {
		return nil, invalidRequest("%v", err)
	}
	eventType := patch.EventType(req.OverridePatch, raw.EventType)
	if !s.validator.IsAllowedEventType(eventType) {
		return nil, fmt.Errorf("%w: event type %q is not allowed", ErrValidationFailed, eventType)
	}
	// An unpatched replay applies exactly the content hashed at ingest.
	hash := raw.PayloadHash
	if !patch.IsEmpty(req.OverridePatch) {
		hash, err = hashing.NewContent(eventType, raw.StoreID, raw.TxnID, raw.OccurredAt, effective).Hash()
		if err != nil {
			return nil, invalidRequest("effective payload: %v", err)
		}
	}

	before := resolutionSnapshot{
		Exception:      exc.Clone(),
		Ledger:         state.Clone(),
		EventType:      raw.EventType,
		CanonicalRawID: raw.RawID,
		Payload:        raw.Payload,
	}

	now := s.now()
	s.close(exc, req, models.ActionResolveAndReplay)
	if !patch.IsEmpty(req.OverridePatch) {
		exc.OverridePatch = req.OverridePatch
	}
	exc.ReplayAttempts++
	exc.LastReplayAt = models.TimePtr(now)
	exc.LastReplayResult = models.StringPtr(models.ReplayResultSuccess)

	state.Status = models.LedgerProcessed
	state.AppliedPayloadHash = models.StringPtr(hash)
	state.ProcessedAt = models.TimePtr(now)
	state.LastErrorCode = nil

	if err := tx.UpdateException(ctx, exc); err != nil {
		return nil, err
	}
	if err := tx.UpdateLedger(ctx, state); err != nil {
		return nil, err
	}

	after := resolutionSnapshot{
		Exception:      exc,
		Ledger:         state,
		EventType:      eventType,
		CanonicalRawID: raw.RawID,
		Payload:        effective,
	}
	if err := s.auditResolution(ctx, tx, req, models.AuditActionResolveAndReplay, before, after); err != nil {
		return nil, err
	}
	return exc, nil
}

func (s *Service) close(exc *models.Exception, req *models.ResolveRequest, action models.ResolutionAction) {
	exc.Status = models.ExceptionResolved
	exc.ResolvedAt = models.TimePtr(s.now())
	exc.ResolvedBy = models.StringPtr(strings.TrimSpace(req.Actor))
	exc.ResolutionAction = models.StringPtr(string(action))
	exc.ResolutionNotes = models.StringPtr(req.Notes)
}

func (s *Service) auditResolution(ctx context.Context, tx repository.Tx, req *models.ResolveRequest, action string, before, after resolutionSnapshot) error {
	_, err := s.audit.Record(ctx, tx, audit.Entry{
		Actor:      strings.TrimSpace(req.Actor),
		Action:     action,
		ObjectType: models.ObjectTypeException,
		ObjectID:   after.Exception.ExceptionID,
		Before:     before,
		After:      after,
		Notes:      req.Notes,
	})
	return err
}

// Assign sets or clears the assignee of an open exception.
func (s *Service) Assign(ctx context.Context, exceptionID, assignee, actor string) (*models.Exception, error) {
	if strings.TrimSpace(exceptionID) == "" {
		return nil, invalidRequest("exception_id is required")
	}
	if strings.TrimSpace(actor) == "" {
		return nil, invalidRequest("actor is required")
	}
	assignee = strings.TrimSpace(assignee)

	var updated *models.Exception
	err := s.runTx(ctx, "assign", func(ctx context.Context, tx repository.Tx) error {
		exc, err := tx.GetExceptionForUpdate(ctx, exceptionID)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: exception %s", ErrNotFound, exceptionID)
		}
		if err != nil {
			return err
		}
		if exc.Status != models.ExceptionOpen {
			return fmt.Errorf("%w: exception %s is not open", ErrNotFound, exceptionID)
		}

		before := exc.Clone()
		exc.Assignee = nil
		if assignee != "" {
			exc.Assignee = models.StringPtr(assignee)
		}
		if err := tx.UpdateException(ctx, exc); err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, tx, audit.Entry{
			Actor:      strings.TrimSpace(actor),
			Action:     models.AuditActionAssign,
			ObjectType: models.ObjectTypeException,
			ObjectID:   exc.ExceptionID,
			Before:     before,
			After:      exc,
		}); err != nil {
			return err
		}
		updated = exc
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.ExceptionAssigned(ctx, updated)
	s.logger.InfoContext(ctx, "exception assigned",
		logging.ExceptionID(updated.ExceptionID),
		logging.Actor(actor),
		slog.String("assignee", assignee),
	)
	return updated, nil
}
