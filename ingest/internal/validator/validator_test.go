package validator

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBody(t *testing.T, mutate func(map[string]interface{})) []byte {
	t.Helper()
	doc := map[string]interface{}{
		"tenant_id":       "tenant_demo",
		"store_id":        "store_001",
		"source_system":   "pos",
		"schema_version":  "1",
		"occurred_at":     "2026-01-15T10:00:00Z",
		"event_id":        "evt-1001",
		"source_event_id": nil,
		"event_type":      "SALE",
		"txn_id":          "txn-9001",
		"payload":         map[string]interface{}{"amount": 42.5, "currency": "USD"},
	}
	if mutate != nil {
		mutate(doc)
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	return b
}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New(nil)
	require.NoError(t, err)
	return v
}

func TestDecodeIngestRequest_Valid(t *testing.T) {
	v := newValidator(t)

	req, err := v.DecodeIngestRequest(validBody(t, nil))
	require.NoError(t, err)

	assert.Equal(t, "tenant_demo", req.TenantID)
	assert.Equal(t, "evt-1001", req.IdempotencyKey())
	assert.Equal(t, "SALE", req.EventType)
	assert.Nil(t, req.SourceEventID)
	assert.True(t, req.OccurredAt.Equal(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)))
	assert.JSONEq(t, `{"amount":42.5,"currency":"USD"}`, string(req.Payload))
}

func TestDecodeIngestRequest_SourceEventID(t *testing.T) {
	v := newValidator(t)

	req, err := v.DecodeIngestRequest(validBody(t, func(d map[string]interface{}) {
		d["source_event_id"] = "pos-77"
	}))
	require.NoError(t, err)
	require.NotNil(t, req.SourceEventID)
	assert.Equal(t, "pos-77", *req.SourceEventID)
}

func TestDecodeIngestRequest_UnknownTypeStillDecodes(t *testing.T) {
	v := newValidator(t)

	req, err := v.DecodeIngestRequest(validBody(t, func(d map[string]interface{}) {
		d["event_type"] = "MAGIC_EVENT"
	}))
	require.NoError(t, err)
	assert.False(t, v.IsAllowedEventType(req.EventType))
}

func TestDecodeIngestRequest_Invalid(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name    string
		body    []byte
		mention string
	}{
		{
			name:    "not json",
			body:    []byte(`{"tenant_id":`),
			mention: "not valid JSON",
		},
		{
			name:    "trailing value",
			body:    append(validBody(t, nil), []byte(` {}`)...),
			mention: "single JSON object",
		},
		{
			name:    "missing tenant",
			body:    validBody(t, func(d map[string]interface{}) { delete(d, "tenant_id") }),
			mention: "tenant_id",
		},
		{
			name:    "missing payload",
			body:    validBody(t, func(d map[string]interface{}) { delete(d, "payload") }),
			mention: "payload",
		},
		{
			name:    "empty event id",
			body:    validBody(t, func(d map[string]interface{}) { d["event_id"] = "" }),
			mention: "event_id",
		},
		{
			name:    "payload not an object",
			body:    validBody(t, func(d map[string]interface{}) { d["payload"] = []int{1, 2} }),
			mention: "payload",
		},
		{
			name:    "bad timestamp",
			body:    validBody(t, func(d map[string]interface{}) { d["occurred_at"] = "yesterday" }),
			mention: "occurred_at",
		},
		{
			name:    "numeric store",
			body:    validBody(t, func(d map[string]interface{}) { d["store_id"] = 17 }),
			mention: "store_id",
		},
		{
			name:    "top level array",
			body:    []byte(`[]`),
			mention: "expected object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := v.DecodeIngestRequest(tt.body)
			require.Error(t, err)
			assert.Nil(t, req)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.NotEmpty(t, verr.Errors)
			assert.True(t, strings.Contains(err.Error(), tt.mention), "error %q should mention %q", err.Error(), tt.mention)
		})
	}
}

func TestAllowlist(t *testing.T) {
	v, err := New([]string{"SALE", " REFUND ", "SALE", ""})
	require.NoError(t, err)

	assert.Equal(t, []string{"REFUND", "SALE"}, v.AllowedEventTypes())
	assert.True(t, v.IsAllowedEventType("SALE"))
	assert.True(t, v.IsAllowedEventType("REFUND"))
	assert.False(t, v.IsAllowedEventType("sale"))
	assert.False(t, v.IsAllowedEventType("VOID"))
}

func TestAllowlist_Default(t *testing.T) {
	v := newValidator(t)
	for _, typ := range DefaultAllowedEventTypes {
		assert.True(t, v.IsAllowedEventType(typ), typ)
	}

	got := v.AllowedEventTypes()
	got[0] = "MUTATED"
	assert.NotEqual(t, "MUTATED", v.AllowedEventTypes()[0])
}
