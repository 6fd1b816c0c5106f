package models

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusCreated, OutcomeProcessed.HTTPStatus())
	assert.Equal(t, http.StatusOK, OutcomeDuplicate.HTTPStatus())
	assert.Equal(t, http.StatusAccepted, OutcomeQuarantined.HTTPStatus())
}

func TestParseResolutionAction(t *testing.T) {
	tests := []struct {
		in   string
		want ResolutionAction
		ok   bool
	}{
		{"resolve_no_replay", ActionResolveNoReplay, true},
		{"mark_resolved_no_replay", ActionResolveNoReplay, true},
		{"resolve_and_replay", ActionResolveAndReplay, true},
		{"override_and_replay", ActionResolveAndReplay, true},
		{"  Resolve_And_Replay ", ActionResolveAndReplay, true},
		{"delete", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseResolutionAction(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdempotencyState_CloneIsDeep(t *testing.T) {
	now := time.Now()
	orig := &IdempotencyState{
		TenantID:       "tenant_demo",
		IdempotencyKey: "evt-1001",
		Status:         LedgerProcessed,
		ProcessedAt:    &now,
		ExceptionID:    StringPtr("ex-1"),
	}

	c := orig.Clone()
	*c.ExceptionID = "ex-2"
	c.Status = LedgerQuarantined

	assert.Equal(t, "ex-1", *orig.ExceptionID)
	assert.Equal(t, LedgerProcessed, orig.Status)
	assert.Equal(t, "tenant_demo/evt-1001", orig.ObjectID())
	assert.Nil(t, (*IdempotencyState)(nil).Clone())
}

func TestIdempotencyState_Observe(t *testing.T) {
	s := &IdempotencyState{FirstRawID: 1, FirstPayloadHash: "sha256:a", LastRawID: 1, LastPayloadHash: "sha256:a"}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	s.Observe(&RawEvent{RawID: 9, PayloadHash: "sha256:b", ReceivedAt: at})

	assert.Equal(t, int64(1), s.FirstRawID)
	assert.Equal(t, "sha256:a", s.FirstPayloadHash)
	assert.Equal(t, int64(9), s.LastRawID)
	assert.Equal(t, "sha256:b", s.LastPayloadHash)
	assert.Equal(t, at, s.LastSeenAt)
}

func TestException_CloneIsDeep(t *testing.T) {
	orig := &Exception{
		ExceptionID: "ex-1",
		Details:     json.RawMessage(`{"a":1}`),
		Assignee:    StringPtr("alice"),
	}

	c := orig.Clone()
	c.Details[2] = 'b'
	*c.Assignee = "bob"

	assert.JSONEq(t, `{"a":1}`, string(orig.Details))
	assert.Equal(t, "alice", *orig.Assignee)
}

func TestException_Summary(t *testing.T) {
	e := &Exception{
		ExceptionID:    "ex-1",
		TenantID:       "tenant_demo",
		IdempotencyKey: "evt-2001",
		RawID:          4,
		ReasonCode:     ReasonUnknownEventType,
		Status:         ExceptionOpen,
	}

	s := e.Summary()
	assert.Equal(t, "ex-1", s.ExceptionID)
	assert.Equal(t, ReasonUnknownEventType, s.ReasonCode)
	assert.Equal(t, int64(4), s.RawID)
}

func TestLedgerBreakdown_Add(t *testing.T) {
	var b LedgerBreakdown
	b.Add(LedgerProcessed, 3)
	b.Add(LedgerQuarantined, 1)
	b.Add(LedgerIgnored, 2)
	b.Add(LedgerStatus("bogus"), 5)

	assert.Equal(t, LedgerBreakdown{Processed: 3, Quarantined: 1, Ignored: 2}, b)
}

func TestExceptionDetail_JSONKeys(t *testing.T) {
	d := ExceptionDetail{
		Exception:     &Exception{ExceptionID: "ex-1"},
		Ledger:        &IdempotencyState{Status: LedgerQuarantined},
		RawEvent:      &RawEvent{RawID: 2, Payload: json.RawMessage(`{"amount":41}`)},
		FirstRawEvent: &RawEvent{RawID: 1},
		LastRawEvent:  &RawEvent{RawID: 2},
	}

	b, err := json.Marshal(d)
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &m))
	for _, key := range []string{"exception", "events_processed", "raw_event", "first_raw_event", "last_raw_event"} {
		assert.Contains(t, m, key)
	}
	assert.Contains(t, string(m["raw_event"]), `"payload_json":{"amount":41}`)
}
