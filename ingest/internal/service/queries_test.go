package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/repository"
)

type brokenStore struct {
	repository.Store
	err error
}

func (s *brokenStore) HealthCounters(context.Context) (*models.HealthCounters, error) {
	return nil, s.err
}

func (s *brokenStore) Ping(context.Context) error {
	return s.err
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultListLimit},
		{-3, DefaultListLimit},
		{10, 10},
		{MaxListLimit, MaxListLimit},
		{MaxListLimit + 1, MaxListLimit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, clampLimit(tt.in), "clampLimit(%d)", tt.in)
	}
}

func TestListExceptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("evt-%d", i)
		f.ingest(t, saleEvent(key, "SALE", `{"amount":1}`))
		f.ingest(t, saleEvent(key, "SALE", `{"amount":2}`))
	}
	f.ingest(t, saleEvent("evt-x", "MAGIC_EVENT", `{}`))

	open, err := f.svc.ListOpenExceptions(ctx, testTenant, 0, 0)
	require.NoError(t, err)
	require.Len(t, open, 4)
	for i := 1; i < len(open); i++ {
		assert.False(t, open[i].CreatedAt.Before(open[i-1].CreatedAt), "queue must be oldest first")
	}

	page, err := f.svc.ListOpenExceptions(ctx, testTenant, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, open[2].ExceptionID, page[0].ExceptionID)

	_, err = f.svc.Resolve(ctx, resolveReq(open[0].ExceptionID, "resolve_no_replay"))
	require.NoError(t, err)

	resolved, err := f.svc.ListExceptions(ctx, models.ExceptionFilter{Status: models.ExceptionResolved})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, open[0].ExceptionID, resolved[0].ExceptionID)

	all, err := f.svc.ListExceptions(ctx, models.ExceptionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	other, err := f.svc.ListOpenExceptions(ctx, "tenant_other", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, other)

	_, err = f.svc.ListExceptions(ctx, models.ExceptionFilter{Status: "pending"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.ListExceptions(ctx, models.ExceptionFilter{Offset: -1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestGetExceptionDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, firstRaw, secondRaw := openConflict(t, f)
	third := f.ingest(t, saleEvent("evt-1", "SALE", `{"amount":7}`))

	detail, err := f.svc.GetExceptionDetail(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, detail.Exception.ExceptionID)
	assert.Equal(t, secondRaw, detail.RawEvent.RawID)
	assert.Equal(t, firstRaw, detail.FirstRawEvent.RawID)
	assert.Equal(t, third.RawID, detail.LastRawEvent.RawID)
	assert.Equal(t, models.LedgerQuarantined, detail.Ledger.Status)

	_, err = f.svc.GetExceptionDetail(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.GetExceptionDetail(ctx, " ")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestGetLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ingest(t, saleEvent("evt-1", "SALE", `{"amount":1}`))

	st, err := f.svc.GetLedger(ctx, testTenant, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.LedgerProcessed, st.Status)

	_, err = f.svc.GetLedger(ctx, testTenant, "evt-missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.GetLedger(ctx, "", "evt-1")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		f := newFixture(t)
		f.ingest(t, saleEvent("evt-1", "SALE", `{"amount":1}`))
		f.ingest(t, saleEvent("evt-1", "SALE", `{"amount":2}`))

		report := f.svc.Health(context.Background())
		assert.Equal(t, "ok", report.Status)
		assert.Equal(t, "ok", report.DB)
		require.NotNil(t, report.Counts)
		assert.Equal(t, int64(2), report.Counts.RawEventCount)
		assert.Equal(t, int64(1), report.Counts.OpenExceptionCount)
		assert.Equal(t, int64(1), report.Counts.IdempotencyBreakdown.Quarantined)
		assert.NoError(t, f.svc.Ready(context.Background()))

		hc, err := f.svc.HealthCounters(context.Background())
		require.NoError(t, err)
		assert.Equal(t, hc.RawEventCount, report.Counts.RawEventCount)
		assert.Equal(t, hc.IdempotencyBreakdown, report.Counts.IdempotencyBreakdown)
	})

	t.Run("degraded", func(t *testing.T) {
		down := errors.New("connection refused")
		f := newFixtureWithStore(t, func(s repository.Store) repository.Store {
			return &brokenStore{Store: s, err: down}
		})

		report := f.svc.Health(context.Background())
		assert.Equal(t, "degraded", report.Status)
		assert.Equal(t, "error", report.DB)
		assert.Equal(t, "connection refused", report.Error)
		assert.Nil(t, report.Counts)

		_, err := f.svc.HealthCounters(context.Background())
		assert.ErrorIs(t, err, ErrTransient)
		assert.ErrorIs(t, f.svc.Ready(context.Background()), down)
	})
}

func TestListAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, _, _ := openConflict(t, f)

	records, err := f.svc.ListAudit(ctx, models.AuditFilter{ObjectType: models.ObjectTypeException, ObjectID: id})
	require.NoError(t, err)
	require.NotEmpty(t, records)
	for _, r := range records {
		assert.Equal(t, id, r.ObjectID)
		assert.True(t, r.Verified)
	}

	all, err := f.svc.ListAudit(ctx, models.AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
