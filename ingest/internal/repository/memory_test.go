package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
)

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_FirstPointersAreFixed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := insertRaw(t, store, newRawEvent("t1", "e1", "sha256:a"))
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertLedger(ctx, newLedger(first, models.LedgerProcessed))
	}))

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		st, err := tx.GetLedgerForUpdate(ctx, "t1", "e1")
		require.NoError(t, err)
		st.FirstRawID = 999
		st.FirstPayloadHash = "sha256:zzz"
		return tx.UpdateLedger(ctx, st)
	}))

	got, err := store.GetLedger(ctx, "t1", "e1")
	require.NoError(t, err)
	assert.Equal(t, first.RawID, got.FirstRawID)
	assert.Equal(t, "sha256:a", got.FirstPayloadHash)
}

func TestMemoryStore_ReadsReturnCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ev := insertRaw(t, store, newRawEvent("t1", "e1", "sha256:a"))
	exc := newException(ev, time.Now())
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertException(ctx, exc)
	}))

	got, err := store.GetException(ctx, exc.ExceptionID)
	require.NoError(t, err)
	got.Status = models.ExceptionResolved

	again, err := store.GetException(ctx, exc.ExceptionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExceptionOpen, again.Status)
}

func TestMemoryStore_Clock(t *testing.T) {
	store := NewMemoryStore()
	fixed := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return fixed })

	ev := insertRaw(t, store, newRawEvent("t1", "e1", "sha256:a"))
	assert.True(t, ev.ReceivedAt.Equal(fixed))

	hc, err := store.HealthCounters(context.Background())
	require.NoError(t, err)
	assert.True(t, hc.DBTime.Equal(fixed))
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
