package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
)

type ledgerKey struct {
	tenantID string
	key      string
}

// MemoryStore keeps all state in process. Transactions are serialized on a
// single mutex and rolled back from an undo journal, so it offers the same
// observable semantics as PostgresStore without a database. Development and
// tests only.
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	raw        []*models.RawEvent
	ledger     map[ledgerKey]*models.IdempotencyState
	exceptions map[string]*models.Exception
	order      []string
	audit      []*models.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:        func() time.Time { return time.Now().UTC() },
		ledger:     make(map[ledgerKey]*models.IdempotencyState),
		exceptions: make(map[string]*models.Exception),
	}
}

// SetClock replaces the clock used for received_at and db_time.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:          s,
		at:         s.now(),
		rawLen:     len(s.raw),
		orderLen:   len(s.order),
		auditLen:   len(s.audit),
		ledgerPrev: make(map[ledgerKey]*models.IdempotencyState),
		excPrev:    make(map[string]*models.Exception),
	}

	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *MemoryStore) ListExceptions(ctx context.Context, filter models.ExceptionFilter) ([]*models.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Exception
	skipped := 0
	for _, id := range s.order {
		e := s.exceptions[id]
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.TenantID != "" && e.TenantID != filter.TenantID {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
		out = append(out, e.Clone())
	}
	return out, nil
}

func (s *MemoryStore) GetException(ctx context.Context, exceptionID string) (*models.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.exceptions[exceptionID]
	if !ok {
		return nil, fmt.Errorf("get exception: %w", ErrNotFound)
	}
	return e.Clone(), nil
}

func (s *MemoryStore) GetRawEvent(ctx context.Context, rawID int64) (*models.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rawEvent(rawID)
}

func (s *MemoryStore) GetLedger(ctx context.Context, tenantID, key string) (*models.IdempotencyState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.ledger[ledgerKey{tenantID, key}]
	if !ok {
		return nil, fmt.Errorf("get ledger: %w", ErrNotFound)
	}
	return st.Clone(), nil
}

func (s *MemoryStore) HealthCounters(ctx context.Context) (*models.HealthCounters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hc := &models.HealthCounters{
		RawEventCount: int64(len(s.raw)),
		DBTime:        s.now(),
	}
	for _, e := range s.exceptions {
		if e.Status == models.ExceptionOpen {
			hc.OpenExceptionCount++
		}
	}
	for _, st := range s.ledger {
		hc.IdempotencyBreakdown.Add(st.Status, 1)
	}
	return hc, nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if filter.ObjectType != "" && e.ObjectType != filter.ObjectType {
			continue
		}
		if filter.ObjectID != "" && e.ObjectID != filter.ObjectID {
			continue
		}
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) rawEvent(rawID int64) (*models.RawEvent, error) {
	if rawID < 1 || rawID > int64(len(s.raw)) {
		return nil, fmt.Errorf("get raw event: %w", ErrNotFound)
	}
	c := *s.raw[rawID-1]
	return &c, nil
}

// memTx mutates the store directly and remembers enough to undo itself.
type memTx struct {
	s  *MemoryStore
	at time.Time

	rawLen     int
	orderLen   int
	auditLen   int
	ledgerPrev map[ledgerKey]*models.IdempotencyState
	excPrev    map[string]*models.Exception
}

func (t *memTx) rollback() {
	s := t.s
	s.raw = s.raw[:t.rawLen]
	s.order = s.order[:t.orderLen]
	s.audit = s.audit[:t.auditLen]
	for k, prev := range t.ledgerPrev {
		if prev == nil {
			delete(s.ledger, k)
		} else {
			s.ledger[k] = prev
		}
	}
	for id, prev := range t.excPrev {
		if prev == nil {
			delete(s.exceptions, id)
		} else {
			s.exceptions[id] = prev
		}
	}
}

func (t *memTx) rememberLedger(k ledgerKey) {
	if _, seen := t.ledgerPrev[k]; !seen {
		t.ledgerPrev[k] = t.s.ledger[k]
	}
}

func (t *memTx) rememberException(id string) {
	if _, seen := t.excPrev[id]; !seen {
		t.excPrev[id] = t.s.exceptions[id]
	}
}

func (t *memTx) InsertRawEvent(ctx context.Context, ev *models.RawEvent) error {
	ev.RawID = int64(len(t.s.raw)) + 1
	ev.ReceivedAt = t.at
	c := *ev
	t.s.raw = append(t.s.raw, &c)
	return nil
}

func (t *memTx) GetRawEvent(ctx context.Context, rawID int64) (*models.RawEvent, error) {
	return t.s.rawEvent(rawID)
}

func (t *memTx) GetLedgerForUpdate(ctx context.Context, tenantID, key string) (*models.IdempotencyState, error) {
	st, ok := t.s.ledger[ledgerKey{tenantID, key}]
	if !ok {
		return nil, fmt.Errorf("get ledger: %w", ErrNotFound)
	}
	return st.Clone(), nil
}

func (t *memTx) InsertLedger(ctx context.Context, st *models.IdempotencyState) error {
	k := ledgerKey{st.TenantID, st.IdempotencyKey}
	if _, exists := t.s.ledger[k]; exists {
		return fmt.Errorf("insert ledger: %w", ErrConflict)
	}
	t.rememberLedger(k)
	t.s.ledger[k] = st.Clone()
	return nil
}

func (t *memTx) UpdateLedger(ctx context.Context, st *models.IdempotencyState) error {
	k := ledgerKey{st.TenantID, st.IdempotencyKey}
	cur, exists := t.s.ledger[k]
	if !exists {
		return fmt.Errorf("update ledger: %w", ErrNotFound)
	}
	t.rememberLedger(k)
	next := st.Clone()
	// First pointers are fixed at creation.
	next.FirstSeenAt = cur.FirstSeenAt
	next.FirstRawID = cur.FirstRawID
	next.FirstPayloadHash = cur.FirstPayloadHash
	t.s.ledger[k] = next
	return nil
}

func (t *memTx) InsertException(ctx context.Context, e *models.Exception) error {
	if _, exists := t.s.exceptions[e.ExceptionID]; exists {
		return fmt.Errorf("insert exception: %w", ErrConflict)
	}
	if e.Status == models.ExceptionOpen {
		if _, err := t.GetOpenExceptionForKey(ctx, e.TenantID, e.IdempotencyKey); err == nil {
			return fmt.Errorf("insert exception: %w", ErrConflict)
		}
	}
	t.rememberException(e.ExceptionID)
	t.s.exceptions[e.ExceptionID] = e.Clone()
	t.s.order = append(t.s.order, e.ExceptionID)
	return nil
}

func (t *memTx) GetException(ctx context.Context, exceptionID string) (*models.Exception, error) {
	return t.GetExceptionForUpdate(ctx, exceptionID)
}

func (t *memTx) GetExceptionForUpdate(ctx context.Context, exceptionID string) (*models.Exception, error) {
	e, ok := t.s.exceptions[exceptionID]
	if !ok {
		return nil, fmt.Errorf("get exception: %w", ErrNotFound)
	}
	return e.Clone(), nil
}

func (t *memTx) GetOpenExceptionForKey(ctx context.Context, tenantID, key string) (*models.Exception, error) {
	for _, e := range t.s.exceptions {
		if e.Status == models.ExceptionOpen && e.TenantID == tenantID && e.IdempotencyKey == key {
			return e.Clone(), nil
		}
	}
	return nil, fmt.Errorf("get open exception: %w", ErrNotFound)
}

func (t *memTx) UpdateException(ctx context.Context, e *models.Exception) error {
	cur, exists := t.s.exceptions[e.ExceptionID]
	if !exists {
		return fmt.Errorf("update exception: %w", ErrNotFound)
	}
	if e.Status == models.ExceptionOpen && cur.Status != models.ExceptionOpen {
		if _, err := t.GetOpenExceptionForKey(ctx, e.TenantID, e.IdempotencyKey); err == nil {
			return fmt.Errorf("update exception: %w", ErrConflict)
		}
	}
	t.rememberException(e.ExceptionID)
	next := e.Clone()
	// Only the resolution engine's columns are mutable.
	next.TenantID = cur.TenantID
	next.RawID = cur.RawID
	next.IdempotencyKey = cur.IdempotencyKey
	next.ReasonCode = cur.ReasonCode
	next.Details = cur.Details
	next.CreatedAt = cur.CreatedAt
	t.s.exceptions[e.ExceptionID] = next
	return nil
}

func (t *memTx) InsertAudit(ctx context.Context, e *models.AuditEntry) error {
	c := *e
	t.s.audit = append(t.s.audit, &c)
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*memTx)(nil)
)
