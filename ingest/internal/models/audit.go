package models

import (
	"encoding/json"
	"time"
)

// Audit object types.
const (
	ObjectTypeLedger    = "events_processed"
	ObjectTypeException = "exception"
)

// Audit actions.
const (
	AuditActionProcessed          = "processed"
	AuditActionQuarantined        = "quarantined"
	AuditActionAlreadyQuarantined = "already_quarantined"
	AuditActionResolveNoReplay    = string(ActionResolveNoReplay)
	AuditActionResolveAndReplay   = string(ActionResolveAndReplay)
	AuditActionAssign             = "assign"
)

// ActorSystem identifies the decision engine in the audit trail.
const ActorSystem = "system:ingest"

// AuditEntry is an immutable record of one state-changing action.
type AuditEntry struct {
	AuditID    string          `json:"audit_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	ObjectType string          `json:"object_type"`
	ObjectID   string          `json:"object_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Notes      *string         `json:"notes,omitempty"`
	Signature  string          `json:"signature"`
}

// AuditFilter selects audit entries, newest first.
type AuditFilter struct {
	ObjectType string
	ObjectID   string
	Limit      int
}
