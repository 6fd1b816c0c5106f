package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/ledgersafe/common/logging"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/audit"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/repository"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/validator"
)

const testTenant = "tenant_demo"

type recordingNotifier struct {
	mu       sync.Mutex
	opened   []string
	resolved []string
	assigned []string
}

func (n *recordingNotifier) ExceptionOpened(_ context.Context, e *models.Exception) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = append(n.opened, e.ExceptionID)
}

func (n *recordingNotifier) ExceptionResolved(_ context.Context, e *models.Exception) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolved = append(n.resolved, e.ExceptionID)
}

func (n *recordingNotifier) ExceptionAssigned(_ context.Context, e *models.Exception) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.assigned = append(n.assigned, e.ExceptionID)
}

type recordingStats struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *recordingStats) Record(tenantID, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[tenantID+"/"+outcome]++
}

type recordingDeadLetter struct {
	mu      sync.Mutex
	reasons []string
}

func (d *recordingDeadLetter) Write(_ context.Context, reason string, _ *models.IngestRequest, _ error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons = append(d.reasons, reason)
	return nil
}

type fixture struct {
	svc      *Service
	store    *repository.MemoryStore
	recorder *audit.Recorder
	notifier *recordingNotifier
	stats    *recordingStats
	dlq      *recordingDeadLetter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, nil)
}

// newFixtureWithStore wires the service to wrap(memory store) when wrap is
// given, so tests can inject storage failures.
func newFixtureWithStore(t *testing.T, wrap func(repository.Store) repository.Store) *fixture {
	t.Helper()

	v, err := validator.New(nil)
	require.NoError(t, err)

	clock := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	store := repository.NewMemoryStore()
	store.SetClock(func() time.Time { return clock })

	var backend repository.Store = store
	if wrap != nil {
		backend = wrap(store)
	}

	f := &fixture{
		store:    store,
		recorder: audit.NewRecorder("test-secret"),
		notifier: &recordingNotifier{},
		stats:    &recordingStats{},
		dlq:      &recordingDeadLetter{},
	}
	f.svc = New(backend, v, f.recorder, Config{MaxAttempts: 3, RetryBackoff: time.Millisecond},
		WithNotifier(f.notifier),
		WithStats(f.stats),
		WithDeadLetter(f.dlq),
		WithLogger(logging.Nop()),
		WithClock(func() time.Time { return clock.Add(time.Minute) }),
	)
	return f
}

func saleEvent(eventID, eventType, payload string) *models.IngestRequest {
	return &models.IngestRequest{
		TenantID:      testTenant,
		StoreID:       "store_001",
		SourceSystem:  "pos",
		SchemaVersion: "1",
		OccurredAt:    time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		EventID:       eventID,
		EventType:     eventType,
		TxnID:         "txn-" + eventID,
		Payload:       json.RawMessage(payload),
	}
}

func (f *fixture) ingest(t *testing.T, req *models.IngestRequest) *models.IngestResult {
	t.Helper()
	res, err := f.svc.Ingest(context.Background(), req)
	require.NoError(t, err)
	return res
}

func (f *fixture) ledger(t *testing.T, key string) *models.IdempotencyState {
	t.Helper()
	st, err := f.store.GetLedger(context.Background(), testTenant, key)
	require.NoError(t, err)
	return st
}

func (f *fixture) openExceptions(t *testing.T) []*models.Exception {
	t.Helper()
	out, err := f.store.ListExceptions(context.Background(), models.ExceptionFilter{Status: models.ExceptionOpen})
	require.NoError(t, err)
	return out
}

func TestScenarios(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const (
		sale4250 = `{"amount":42.50,"currency":"USD"}`
		sale4100 = `{"amount":41.00,"currency":"USD"}`
		magic    = `{"wand":"elder"}`
	)

	var conflictID, unknownID string
	var firstRawID int64

	t.Run("1 first arrival is processed", func(t *testing.T) {
		res := f.ingest(t, saleEvent("evt-1001", "SALE", sale4250))
		assert.Equal(t, models.OutcomeProcessed, res.Outcome)
		assert.Equal(t, 201, res.Outcome.HTTPStatus())
		assert.Nil(t, res.ExceptionID)
		firstRawID = res.RawID

		st := f.ledger(t, "evt-1001")
		assert.Equal(t, models.LedgerProcessed, st.Status)
		assert.Equal(t, res.RawID, st.FirstRawID)
		assert.Equal(t, res.RawID, st.LastRawID)
	})

	t.Run("2 identical repost is a duplicate", func(t *testing.T) {
		res := f.ingest(t, saleEvent("evt-1001", "SALE", sale4250))
		assert.Equal(t, models.OutcomeDuplicate, res.Outcome)
		assert.Equal(t, 200, res.Outcome.HTTPStatus())

		st := f.ledger(t, "evt-1001")
		assert.Equal(t, models.LedgerProcessed, st.Status)
		assert.Equal(t, firstRawID, st.FirstRawID)
		assert.Equal(t, res.RawID, st.LastRawID)
	})

	t.Run("3 changed amount is a conflict", func(t *testing.T) {
		res := f.ingest(t, saleEvent("evt-1001", "SALE", sale4100))
		assert.Equal(t, models.OutcomeQuarantined, res.Outcome)
		assert.Equal(t, 202, res.Outcome.HTTPStatus())
		require.NotNil(t, res.ReasonCode)
		assert.Equal(t, models.ReasonIdempotencyConflict, *res.ReasonCode)
		require.NotNil(t, res.ExceptionID)
		conflictID = *res.ExceptionID

		st := f.ledger(t, "evt-1001")
		assert.Equal(t, models.LedgerQuarantined, st.Status)
		assert.Equal(t, firstRawID, st.FirstRawID)
		assert.Equal(t, res.RawID, st.LastRawID)
		require.Len(t, f.openExceptions(t), 1)
	})

	t.Run("4 unknown type is quarantined", func(t *testing.T) {
		res := f.ingest(t, saleEvent("evt-2001", "MAGIC_EVENT", magic))
		assert.Equal(t, models.OutcomeQuarantined, res.Outcome)
		require.NotNil(t, res.ReasonCode)
		assert.Equal(t, models.ReasonUnknownEventType, *res.ReasonCode)
		require.NotNil(t, res.ExceptionID)
		unknownID = *res.ExceptionID

		assert.Equal(t, models.LedgerQuarantined, f.ledger(t, "evt-2001").Status)
	})

	t.Run("5 resolve and replay the first arrival", func(t *testing.T) {
		exc, err := f.svc.Resolve(ctx, &models.ResolveRequest{
			ExceptionID: conflictID,
			Actor:       "ops@example.com",
			Notes:       "first arrival is authoritative",
			Action:      "resolve_and_replay",
			ChosenRawID: &firstRawID,
		})
		require.NoError(t, err)
		assert.Equal(t, models.ExceptionResolved, exc.Status)
		assert.Equal(t, 1, exc.ReplayAttempts)
		require.NotNil(t, exc.LastReplayResult)
		assert.Equal(t, models.ReplayResultSuccess, *exc.LastReplayResult)

		st := f.ledger(t, "evt-1001")
		assert.Equal(t, models.LedgerProcessed, st.Status)
		require.NotNil(t, st.AppliedPayloadHash)
		assert.Equal(t, st.FirstPayloadHash, *st.AppliedPayloadHash)

		// The original content is again the applied one.
		res := f.ingest(t, saleEvent("evt-1001", "SALE", sale4250))
		assert.Equal(t, models.OutcomeDuplicate, res.Outcome)
	})

	t.Run("6 resolve without replay then resubmit", func(t *testing.T) {
		exc, err := f.svc.Resolve(ctx, &models.ResolveRequest{
			ExceptionID: unknownID,
			Actor:       "ops@example.com",
			Notes:       "test traffic",
			Action:      "resolve_no_replay",
		})
		require.NoError(t, err)
		assert.Equal(t, models.ExceptionResolved, exc.Status)
		assert.Equal(t, 0, exc.ReplayAttempts)
		assert.Equal(t, models.LedgerIgnored, f.ledger(t, "evt-2001").Status)

		res := f.ingest(t, saleEvent("evt-2001", "MAGIC_EVENT", magic))
		assert.Equal(t, models.OutcomeDuplicate, res.Outcome)
		assert.Equal(t, models.LedgerIgnored, f.ledger(t, "evt-2001").Status)

		res = f.ingest(t, saleEvent("evt-2001", "MAGIC_EVENT", `{"wand":"holly"}`))
		assert.Equal(t, models.OutcomeQuarantined, res.Outcome)
		require.NotNil(t, res.ExceptionID)
		assert.NotEqual(t, unknownID, *res.ExceptionID)
		require.NotNil(t, res.ReasonCode)
		assert.Equal(t, models.ReasonIdempotencyConflict, *res.ReasonCode)
		assert.Equal(t, models.LedgerQuarantined, f.ledger(t, "evt-2001").Status)

		reopened, err := f.store.GetException(ctx, *res.ExceptionID)
		require.NoError(t, err)
		var details models.ConflictDetails
		require.NoError(t, json.Unmarshal(reopened.Details, &details))
		assert.Equal(t, models.LedgerIgnored, details.PreviousStatus)
	})

	t.Run("side effects", func(t *testing.T) {
		assert.Len(t, f.notifier.opened, 3)
		assert.ElementsMatch(t, []string{conflictID, unknownID}, f.notifier.resolved)
		assert.Equal(t, 1, f.stats.counts[testTenant+"/processed"])
		assert.Equal(t, 3, f.stats.counts[testTenant+"/duplicate"])
		assert.Equal(t, 3, f.stats.counts[testTenant+"/quarantined"])
		assert.Empty(t, f.dlq.reasons)
	})

	t.Run("audit trail verifies", func(t *testing.T) {
		entries, err := f.store.ListAudit(ctx, models.AuditFilter{})
		require.NoError(t, err)

		actions := map[string]int{}
		for _, e := range entries {
			actions[e.Action]++
			assert.True(t, f.recorder.Verify(e), "entry %s (%s) failed verification", e.AuditID, e.Action)
		}
		assert.Equal(t, 1, actions[models.AuditActionProcessed])
		assert.Equal(t, 3, actions[models.AuditActionQuarantined])
		assert.Equal(t, 1, actions[models.AuditActionResolveAndReplay])
		assert.Equal(t, 1, actions[models.AuditActionResolveNoReplay])
	})
}
