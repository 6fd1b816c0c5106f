package models

import (
	"encoding/json"
	"net/http"
	"time"
)

// RawEvent is one row of the append-only event log. It is written once per
// inbound request, whatever the classification outcome, and never updated.
type RawEvent struct {
	RawID         int64           `json:"raw_id"`
	TenantID      string          `json:"tenant_id"`
	StoreID       string          `json:"store_id"`
	SourceSystem  string          `json:"source_system"`
	SchemaVersion string          `json:"schema_version"`
	ReceivedAt    time.Time       `json:"received_at"`
	OccurredAt    time.Time       `json:"occurred_at"`
	EventID       string          `json:"event_id"`
	SourceEventID *string         `json:"source_event_id,omitempty"`
	EventType     string          `json:"event_type"`
	TxnID         string          `json:"txn_id"`
	PayloadHash   string          `json:"payload_hash"`
	Payload       json.RawMessage `json:"payload_json"`
}

// IngestRequest is a producer submission.
type IngestRequest struct {
	TenantID      string          `json:"tenant_id"`
	StoreID       string          `json:"store_id"`
	SourceSystem  string          `json:"source_system"`
	SchemaVersion string          `json:"schema_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	EventID       string          `json:"event_id"`
	SourceEventID *string         `json:"source_event_id,omitempty"`
	EventType     string          `json:"event_type"`
	TxnID         string          `json:"txn_id"`
	Payload       json.RawMessage `json:"payload"`
}

// IdempotencyKey is the tenant-scoped identifier the producer uses to mean
// "this exact event".
func (r *IngestRequest) IdempotencyKey() string {
	return r.EventID
}

// Outcome is the classification the decision engine returns.
type Outcome string

const (
	OutcomeProcessed   Outcome = "processed"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeQuarantined Outcome = "quarantined"
)

// HTTPStatus maps an outcome onto its success status. None of them are errors.
func (o Outcome) HTTPStatus() int {
	switch o {
	case OutcomeProcessed:
		return http.StatusCreated
	case OutcomeQuarantined:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}

// Classification codes recorded on the ledger's last_error_code.
const (
	ClassificationAlreadyQuarantined = "ALREADY_QUARANTINED"
)

// IngestResult is returned for every accepted arrival.
type IngestResult struct {
	Outcome        Outcome     `json:"outcome"`
	RawID          int64       `json:"raw_id"`
	IdempotencyKey string      `json:"idempotency_key"`
	ExceptionID    *string     `json:"exception_id,omitempty"`
	ReasonCode     *ReasonCode `json:"reason_code,omitempty"`
	Classification string      `json:"classification,omitempty"`
}
