package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
)

var errAbort = errors.New("abort")

func newRawEvent(tenant, eventID, hash string) *models.RawEvent {
	return &models.RawEvent{
		TenantID:      tenant,
		StoreID:       "store_001",
		SourceSystem:  "pos",
		SchemaVersion: "1",
		OccurredAt:    time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		EventID:       eventID,
		EventType:     "SALE",
		TxnID:         "txn-" + eventID,
		PayloadHash:   hash,
		Payload:       json.RawMessage(`{"amount":10}`),
	}
}

func insertRaw(t *testing.T, store Store, ev *models.RawEvent) *models.RawEvent {
	t.Helper()
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertRawEvent(ctx, ev)
	})
	require.NoError(t, err)
	return ev
}

func newLedger(ev *models.RawEvent, status models.LedgerStatus) *models.IdempotencyState {
	return &models.IdempotencyState{
		TenantID:         ev.TenantID,
		IdempotencyKey:   ev.EventID,
		Status:           status,
		FirstSeenAt:      ev.ReceivedAt,
		LastSeenAt:       ev.ReceivedAt,
		FirstRawID:       ev.RawID,
		LastRawID:        ev.RawID,
		FirstPayloadHash: ev.PayloadHash,
		LastPayloadHash:  ev.PayloadHash,
	}
}

func newException(ev *models.RawEvent, createdAt time.Time) *models.Exception {
	return &models.Exception{
		ExceptionID:    uuid.NewString(),
		TenantID:       ev.TenantID,
		RawID:          ev.RawID,
		IdempotencyKey: ev.EventID,
		ReasonCode:     models.ReasonIdempotencyConflict,
		Details:        json.RawMessage(`{"event_type":"SALE"}`),
		Status:         models.ExceptionOpen,
		CreatedAt:      createdAt,
	}
}

// runStoreContract exercises the behaviour every Store must share. Each
// sub-test uses its own tenant so they can share one database.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("raw events are numbered in order", func(t *testing.T) {
		a := insertRaw(t, store, newRawEvent("t-raw", "e1", "sha256:a"))
		b := insertRaw(t, store, newRawEvent("t-raw", "e1", "sha256:b"))

		assert.Greater(t, a.RawID, int64(0))
		assert.Greater(t, b.RawID, a.RawID)
		assert.False(t, a.ReceivedAt.IsZero())

		got, err := store.GetRawEvent(ctx, b.RawID)
		require.NoError(t, err)
		assert.Equal(t, "sha256:b", got.PayloadHash)
		assert.Equal(t, "e1", got.EventID)
		assert.JSONEq(t, `{"amount":10}`, string(got.Payload))

		_, err = store.GetRawEvent(ctx, b.RawID+1000)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("occurred_at round trips at microsecond precision", func(t *testing.T) {
		ev := newRawEvent("t-precision", "e1", "sha256:a")
		ev.OccurredAt = time.Date(2026, 1, 15, 10, 0, 0, 123456000, time.UTC)
		insertRaw(t, store, ev)

		got, err := store.GetRawEvent(ctx, ev.RawID)
		require.NoError(t, err)
		assert.True(t, ev.OccurredAt.Equal(got.OccurredAt), "stored %s, read %s", ev.OccurredAt, got.OccurredAt)
	})

	t.Run("rollback discards every write", func(t *testing.T) {
		before, err := store.HealthCounters(ctx)
		require.NoError(t, err)

		var raw *models.RawEvent
		err = store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			raw = newRawEvent("t-rollback", "e1", "sha256:a")
			require.NoError(t, tx.InsertRawEvent(ctx, raw))
			require.NoError(t, tx.InsertLedger(ctx, newLedger(raw, models.LedgerQuarantined)))
			require.NoError(t, tx.InsertException(ctx, newException(raw, raw.ReceivedAt)))
			return errAbort
		})
		assert.ErrorIs(t, err, errAbort)

		after, err := store.HealthCounters(ctx)
		require.NoError(t, err)
		assert.Equal(t, before.RawEventCount, after.RawEventCount)
		assert.Equal(t, before.OpenExceptionCount, after.OpenExceptionCount)
		assert.Equal(t, before.IdempotencyBreakdown, after.IdempotencyBreakdown)

		_, err = store.GetLedger(ctx, "t-rollback", "e1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ledger lifecycle", func(t *testing.T) {
		first := insertRaw(t, store, newRawEvent("t-ledger", "e1", "sha256:a"))

		err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.GetLedgerForUpdate(ctx, "t-ledger", "e1")
			require.ErrorIs(t, err, ErrNotFound)

			st := newLedger(first, models.LedgerProcessed)
			st.AppliedPayloadHash = models.StringPtr(first.PayloadHash)
			st.ProcessedAt = models.TimePtr(first.ReceivedAt)
			return tx.InsertLedger(ctx, st)
		})
		require.NoError(t, err)

		err = store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertLedger(ctx, newLedger(first, models.LedgerProcessed))
		})
		assert.ErrorIs(t, err, ErrConflict)
		assert.True(t, IsRetryable(err))

		second := insertRaw(t, store, newRawEvent("t-ledger", "e1", "sha256:b"))
		err = store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			st, err := tx.GetLedgerForUpdate(ctx, "t-ledger", "e1")
			require.NoError(t, err)
			st.Observe(second)
			st.Status = models.LedgerQuarantined
			st.LastErrorCode = models.StringPtr(string(models.ReasonIdempotencyConflict))
			return tx.UpdateLedger(ctx, st)
		})
		require.NoError(t, err)

		got, err := store.GetLedger(ctx, "t-ledger", "e1")
		require.NoError(t, err)
		assert.Equal(t, models.LedgerQuarantined, got.Status)
		assert.Equal(t, first.RawID, got.FirstRawID)
		assert.Equal(t, "sha256:a", got.FirstPayloadHash)
		assert.Equal(t, second.RawID, got.LastRawID)
		assert.Equal(t, "sha256:b", got.LastPayloadHash)
		require.NotNil(t, got.AppliedPayloadHash)
		assert.Equal(t, "sha256:a", *got.AppliedPayloadHash)
		require.NotNil(t, got.LastErrorCode)
		assert.Equal(t, "IDEMPOTENCY_CONFLICT", *got.LastErrorCode)

		err = store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.UpdateLedger(ctx, newLedger(newRawEvent("t-ledger", "missing", "x"), models.LedgerIgnored))
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("at most one open exception per key", func(t *testing.T) {
		ev := insertRaw(t, store, newRawEvent("t-exc", "e1", "sha256:a"))
		created := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
		exc := newException(ev, created)

		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertException(ctx, exc)
		}))

		err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertException(ctx, newException(ev, created.Add(time.Second)))
		})
		assert.ErrorIs(t, err, ErrConflict)

		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			open, err := tx.GetOpenExceptionForKey(ctx, "t-exc", "e1")
			require.NoError(t, err)
			assert.Equal(t, exc.ExceptionID, open.ExceptionID)

			open.Status = models.ExceptionResolved
			open.ResolvedAt = models.TimePtr(created.Add(time.Minute))
			open.ResolvedBy = models.StringPtr("ops@example.com")
			open.ResolutionAction = models.StringPtr(string(models.ActionResolveNoReplay))
			open.ResolutionNotes = models.StringPtr("producer bug")
			return tx.UpdateException(ctx, open)
		}))

		second := newException(ev, created.Add(2*time.Minute))
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.GetOpenExceptionForKey(ctx, "t-exc", "e1")
			require.ErrorIs(t, err, ErrNotFound)
			return tx.InsertException(ctx, second)
		}))

		got, err := store.GetException(ctx, exc.ExceptionID)
		require.NoError(t, err)
		assert.Equal(t, models.ExceptionResolved, got.Status)
		require.NotNil(t, got.ResolvedBy)
		assert.Equal(t, "ops@example.com", *got.ResolvedBy)
		assert.JSONEq(t, `{"event_type":"SALE"}`, string(got.Details))

		_, err = store.GetException(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.GetException(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list exceptions", func(t *testing.T) {
		base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
		var ids []string
		for i, key := range []string{"k1", "k2", "k3"} {
			ev := insertRaw(t, store, newRawEvent("t-list", key, "sha256:a"))
			exc := newException(ev, base.Add(time.Duration(i)*time.Minute))
			ids = append(ids, exc.ExceptionID)
			require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
				return tx.InsertException(ctx, exc)
			}))
		}
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			e, err := tx.GetExceptionForUpdate(ctx, ids[1])
			require.NoError(t, err)
			e.Status = models.ExceptionResolved
			e.ResolvedAt = models.TimePtr(base.Add(time.Hour))
			return tx.UpdateException(ctx, e)
		}))

		open, err := store.ListExceptions(ctx, models.ExceptionFilter{TenantID: "t-list", Status: models.ExceptionOpen, Limit: 10})
		require.NoError(t, err)
		require.Len(t, open, 2)
		assert.Equal(t, ids[0], open[0].ExceptionID)
		assert.Equal(t, ids[2], open[1].ExceptionID)

		all, err := store.ListExceptions(ctx, models.ExceptionFilter{TenantID: "t-list", Limit: 10})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		page, err := store.ListExceptions(ctx, models.ExceptionFilter{TenantID: "t-list", Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, ids[1], page[0].ExceptionID)

		resolved, err := store.ListExceptions(ctx, models.ExceptionFilter{TenantID: "t-list", Status: models.ExceptionResolved, Limit: 10})
		require.NoError(t, err)
		require.Len(t, resolved, 1)
		assert.Equal(t, ids[1], resolved[0].ExceptionID)
	})

	t.Run("audit newest first", func(t *testing.T) {
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i, action := range []string{"processed", "quarantined", "resolve_no_replay"} {
			entry := &models.AuditEntry{
				AuditID:    uuid.NewString(),
				OccurredAt: base.Add(time.Duration(i) * time.Second),
				Actor:      models.ActorSystem,
				Action:     action,
				ObjectType: models.ObjectTypeLedger,
				ObjectID:   "t-audit/e1",
				After:      json.RawMessage(`{"status":"processed"}`),
				Signature:  "sig",
			}
			require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
				return tx.InsertAudit(ctx, entry)
			}))
		}

		entries, err := store.ListAudit(ctx, models.AuditFilter{ObjectType: models.ObjectTypeLedger, ObjectID: "t-audit/e1", Limit: 2})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "resolve_no_replay", entries[0].Action)
		assert.Equal(t, "quarantined", entries[1].Action)
		assert.Nil(t, entries[0].Before)
		assert.JSONEq(t, `{"status":"processed"}`, string(entries[0].After))
	})

	t.Run("health counters", func(t *testing.T) {
		hc, err := store.HealthCounters(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, hc.RawEventCount, int64(1))
		assert.GreaterOrEqual(t, hc.IdempotencyBreakdown.Quarantined, int64(1))
		assert.False(t, hc.DBTime.IsZero())
		assert.NoError(t, store.Ping(ctx))
	})
}
