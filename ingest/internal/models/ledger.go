package models

import (
	"fmt"
	"time"
)

// LedgerStatus is the state of an idempotency key. Absence of a row is the
// implicit "unseen" state.
type LedgerStatus string

const (
	LedgerProcessed   LedgerStatus = "processed"
	LedgerQuarantined LedgerStatus = "quarantined"
	LedgerIgnored     LedgerStatus = "ignored"
)

// Valid reports whether s is a known status.
func (s LedgerStatus) Valid() bool {
	switch s {
	case LedgerProcessed, LedgerQuarantined, LedgerIgnored:
		return true
	}
	return false
}

// IdempotencyState is the ledger row for one (tenant, idempotency key).
//
// FirstRawID and FirstPayloadHash are fixed when the row is created.
// LastRawID and LastPayloadHash follow every committed observation.
// AppliedPayloadHash is the hash of the content that was last applied
// (the first arrival, or the effective payload of a replay); processed keys
// compare new arrivals against it.
type IdempotencyState struct {
	TenantID           string       `json:"tenant_id"`
	IdempotencyKey     string       `json:"idempotency_key"`
	Status             LedgerStatus `json:"status"`
	FirstSeenAt        time.Time    `json:"first_seen_at"`
	LastSeenAt         time.Time    `json:"last_seen_at"`
	FirstRawID         int64        `json:"first_raw_id"`
	LastRawID          int64        `json:"last_raw_id"`
	FirstPayloadHash   string       `json:"first_payload_hash"`
	LastPayloadHash    string       `json:"last_payload_hash"`
	AppliedPayloadHash *string      `json:"applied_payload_hash,omitempty"`
	ProcessedAt        *time.Time   `json:"processed_at,omitempty"`
	LastErrorCode      *string      `json:"last_error_code,omitempty"`
	ExceptionID        *string      `json:"exception_id,omitempty"`
}

// ObjectID is the audit object id of the row.
func (s *IdempotencyState) ObjectID() string {
	return LedgerObjectID(s.TenantID, s.IdempotencyKey)
}

// LedgerObjectID formats the audit object id for a ledger key.
func LedgerObjectID(tenantID, key string) string {
	return fmt.Sprintf("%s/%s", tenantID, key)
}

// Observe moves the last-seen pointer to ev.
func (s *IdempotencyState) Observe(ev *RawEvent) {
	s.LastRawID = ev.RawID
	s.LastPayloadHash = ev.PayloadHash
	s.LastSeenAt = ev.ReceivedAt
}

// Clone returns a deep copy.
func (s *IdempotencyState) Clone() *IdempotencyState {
	if s == nil {
		return nil
	}
	c := *s
	c.AppliedPayloadHash = cloneString(s.AppliedPayloadHash)
	c.ProcessedAt = cloneTime(s.ProcessedAt)
	c.LastErrorCode = cloneString(s.LastErrorCode)
	c.ExceptionID = cloneString(s.ExceptionID)
	return &c
}

// LedgerBreakdown counts ledger rows per status.
type LedgerBreakdown struct {
	Processed   int64 `json:"processed"`
	Quarantined int64 `json:"quarantined"`
	Ignored     int64 `json:"ignored"`
}

// Add increments the counter for status by n.
func (b *LedgerBreakdown) Add(status LedgerStatus, n int64) {
	switch status {
	case LedgerProcessed:
		b.Processed += n
	case LedgerQuarantined:
		b.Quarantined += n
	case LedgerIgnored:
		b.Ignored += n
	}
}

// HealthCounters is a read-only aggregate over current table state.
type HealthCounters struct {
	RawEventCount        int64           `json:"events_raw"`
	OpenExceptionCount   int64           `json:"exceptions_open"`
	IdempotencyBreakdown LedgerBreakdown `json:"events_processed"`
	DBTime               time.Time       `json:"-"`
}

// HealthReport is the body of GET /v1/health.
type HealthReport struct {
	Status string          `json:"status"`
	DB     string          `json:"db"`
	DBTime *time.Time      `json:"db_time,omitempty"`
	Counts *HealthCounters `json:"counts,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
