package client

import (
	"encoding/json"
	"time"
)

type IngestResult struct {
	Outcome        string  `json:"outcome" yaml:"outcome"`
	RawID          int64   `json:"raw_id" yaml:"raw_id"`
	IdempotencyKey string  `json:"idempotency_key" yaml:"idempotency_key"`
	ExceptionID    *string `json:"exception_id,omitempty" yaml:"exception_id,omitempty"`
	ReasonCode     *string `json:"reason_code,omitempty" yaml:"reason_code,omitempty"`
	Classification string  `json:"classification,omitempty" yaml:"classification,omitempty"`
}

type ExceptionSummary struct {
	ExceptionID    string    `json:"exception_id" yaml:"exception_id"`
	TenantID       string    `json:"tenant_id" yaml:"tenant_id"`
	IdempotencyKey string    `json:"idempotency_key" yaml:"idempotency_key"`
	RawID          int64     `json:"raw_id" yaml:"raw_id"`
	ReasonCode     string    `json:"reason_code" yaml:"reason_code"`
	Status         string    `json:"status" yaml:"status"`
	Assignee       *string   `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	ReplayAttempts int       `json:"replay_attempts" yaml:"replay_attempts"`
}

type ExceptionList struct {
	Exceptions []ExceptionSummary `json:"exceptions" yaml:"exceptions"`
	Count      int                `json:"count" yaml:"count"`
	Limit      int                `json:"limit" yaml:"limit"`
	Offset     int                `json:"offset" yaml:"offset"`
}

// Exception is kept loosely typed; the CLI prints it rather than acting on
// most fields.
type Exception map[string]interface{}

type ExceptionDetail struct {
	Exception     Exception              `json:"exception" yaml:"exception"`
	Ledger        map[string]interface{} `json:"events_processed" yaml:"events_processed"`
	RawEvent      map[string]interface{} `json:"raw_event" yaml:"raw_event"`
	FirstRawEvent map[string]interface{} `json:"first_raw_event" yaml:"first_raw_event"`
	LastRawEvent  map[string]interface{} `json:"last_raw_event" yaml:"last_raw_event"`
}

type ResolveRequest struct {
	Action         string          `json:"action"`
	Actor          string          `json:"actor,omitempty"`
	Notes          string          `json:"resolution_notes"`
	OverridePatch  json.RawMessage `json:"override_patch,omitempty"`
	CanonicalRawID *int64          `json:"canonical_raw_id,omitempty"`
}

type AuditEntry struct {
	AuditID    string          `json:"audit_id" yaml:"audit_id"`
	OccurredAt time.Time       `json:"occurred_at" yaml:"occurred_at"`
	Actor      string          `json:"actor" yaml:"actor"`
	Action     string          `json:"action" yaml:"action"`
	ObjectType string          `json:"object_type" yaml:"object_type"`
	ObjectID   string          `json:"object_id" yaml:"object_id"`
	Notes      *string         `json:"notes,omitempty" yaml:"notes,omitempty"`
	Before     json.RawMessage `json:"before,omitempty" yaml:"-"`
	After      json.RawMessage `json:"after,omitempty" yaml:"-"`
	Verified   bool            `json:"verified" yaml:"verified"`
}

type Health struct {
	Status string        `json:"status" yaml:"status"`
	DB     string        `json:"db" yaml:"db"`
	DBTime *time.Time    `json:"db_time,omitempty" yaml:"db_time,omitempty"`
	Counts *HealthCounts `json:"counts,omitempty" yaml:"counts,omitempty"`
	Error  string        `json:"error,omitempty" yaml:"error,omitempty"`
}

type HealthCounts struct {
	RawEvents      int64       `json:"events_raw" yaml:"events_raw"`
	OpenExceptions int64       `json:"exceptions_open" yaml:"exceptions_open"`
	Ledger         LedgerCount `json:"events_processed" yaml:"events_processed"`
}

type LedgerCount struct {
	Processed   int64 `json:"processed" yaml:"processed"`
	Quarantined int64 `json:"quarantined" yaml:"quarantined"`
	Ignored     int64 `json:"ignored" yaml:"ignored"`
}

type FailedEvent struct {
	Timestamp time.Time       `json:"timestamp" yaml:"timestamp"`
	Reason    string          `json:"reason" yaml:"reason"`
	Error     string          `json:"error" yaml:"error"`
	TenantID  string          `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	EventID   string          `json:"event_id,omitempty" yaml:"event_id,omitempty"`
	Request   json.RawMessage `json:"request,omitempty" yaml:"-"`
}

type DeadLetters struct {
	Events []FailedEvent          `json:"events" yaml:"events"`
	Stats  map[string]interface{} `json:"stats" yaml:"stats"`
}
