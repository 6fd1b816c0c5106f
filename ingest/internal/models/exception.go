package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ReasonCode classifies why an arrival was quarantined.
type ReasonCode string

const (
	ReasonUnknownEventType    ReasonCode = "UNKNOWN_EVENT_TYPE"
	ReasonIdempotencyConflict ReasonCode = "IDEMPOTENCY_CONFLICT"
)

// ExceptionStatus is open until an operator resolves the record.
type ExceptionStatus string

const (
	ExceptionOpen     ExceptionStatus = "open"
	ExceptionResolved ExceptionStatus = "resolved"
)

// ResolutionAction is the operator's decision.
type ResolutionAction string

const (
	ActionResolveNoReplay  ResolutionAction = "resolve_no_replay"
	ActionResolveAndReplay ResolutionAction = "resolve_and_replay"
)

var actionAliases = map[string]ResolutionAction{
	"resolve_no_replay":       ActionResolveNoReplay,
	"mark_resolved_no_replay": ActionResolveNoReplay,
	"resolve_and_replay":      ActionResolveAndReplay,
	"override_and_replay":     ActionResolveAndReplay,
}

// ParseResolutionAction accepts the canonical action names and the console
// aliases. Matching is case-insensitive.
func ParseResolutionAction(s string) (ResolutionAction, bool) {
	a, ok := actionAliases[strings.ToLower(strings.TrimSpace(s))]
	return a, ok
}

// Replay outcomes recorded on the exception.
const (
	ReplayResultSuccess = "success"
)

// Exception is a quarantine record. At most one per (tenant, key) is open.
type Exception struct {
	ExceptionID      string          `json:"exception_id"`
	TenantID         string          `json:"tenant_id"`
	RawID            int64           `json:"raw_id"`
	IdempotencyKey   string          `json:"idempotency_key"`
	ReasonCode       ReasonCode      `json:"reason_code"`
	Details          json.RawMessage `json:"details"`
	OverridePatch    json.RawMessage `json:"override_patch,omitempty"`
	Status           ExceptionStatus `json:"status"`
	Assignee         *string         `json:"assignee,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	ResolutionAction *string         `json:"resolution_action,omitempty"`
	ResolutionNotes  *string         `json:"resolution_notes,omitempty"`
	ResolvedBy       *string         `json:"resolved_by,omitempty"`
	ReplayAttempts   int             `json:"replay_attempts"`
	LastReplayAt     *time.Time      `json:"last_replay_at,omitempty"`
	LastReplayResult *string         `json:"last_replay_result,omitempty"`
}

// Clone returns a deep copy.
func (e *Exception) Clone() *Exception {
	if e == nil {
		return nil
	}
	c := *e
	c.Details = cloneRaw(e.Details)
	c.OverridePatch = cloneRaw(e.OverridePatch)
	c.Assignee = cloneString(e.Assignee)
	c.ResolvedAt = cloneTime(e.ResolvedAt)
	c.ResolutionAction = cloneString(e.ResolutionAction)
	c.ResolutionNotes = cloneString(e.ResolutionNotes)
	c.ResolvedBy = cloneString(e.ResolvedBy)
	c.LastReplayAt = cloneTime(e.LastReplayAt)
	c.LastReplayResult = cloneString(e.LastReplayResult)
	return &c
}

// ConflictDetails is the machine-readable detail stored with a record.
type ConflictDetails struct {
	EventType        string       `json:"event_type"`
	PreviousStatus   LedgerStatus `json:"previous_status,omitempty"`
	FirstRawID       int64        `json:"first_raw_id"`
	FirstPayloadHash string       `json:"first_payload_hash"`
	IncomingRawID    int64        `json:"incoming_raw_id"`
	IncomingHash     string       `json:"incoming_payload_hash"`
	AppliedHash      string       `json:"applied_payload_hash,omitempty"`
	AllowedTypes     []string     `json:"allowed_event_types,omitempty"`
}

// ExceptionFilter selects exceptions for listing.
type ExceptionFilter struct {
	TenantID string
	// Status is open, resolved, or empty for all.
	Status ExceptionStatus
	Limit  int
	Offset int
}

// ExceptionSummary is one row of the operator queue.
type ExceptionSummary struct {
	ExceptionID    string          `json:"exception_id"`
	TenantID       string          `json:"tenant_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	RawID          int64           `json:"raw_id"`
	ReasonCode     ReasonCode      `json:"reason_code"`
	Status         ExceptionStatus `json:"status"`
	Assignee       *string         `json:"assignee,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ReplayAttempts int             `json:"replay_attempts"`
}

// Summary projects the record onto its queue row.
func (e *Exception) Summary() ExceptionSummary {
	return ExceptionSummary{
		ExceptionID:    e.ExceptionID,
		TenantID:       e.TenantID,
		IdempotencyKey: e.IdempotencyKey,
		RawID:          e.RawID,
		ReasonCode:     e.ReasonCode,
		Status:         e.Status,
		Assignee:       cloneString(e.Assignee),
		CreatedAt:      e.CreatedAt,
		ReplayAttempts: e.ReplayAttempts,
	}
}

// ExceptionDetail carries a record with the events needed to compare the
// conflicting arrivals side by side.
type ExceptionDetail struct {
	Exception     *Exception        `json:"exception"`
	Ledger        *IdempotencyState `json:"events_processed"`
	RawEvent      *RawEvent         `json:"raw_event"`
	FirstRawEvent *RawEvent         `json:"first_raw_event"`
	LastRawEvent  *RawEvent         `json:"last_raw_event"`
}

// ResolveRequest is an operator decision on one exception.
type ResolveRequest struct {
	ExceptionID   string
	Actor         string
	Notes         string
	Action        string
	ChosenRawID   *int64
	OverridePatch json.RawMessage
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	out := make(json.RawMessage, len(r))
	copy(out, r)
	return out
}
