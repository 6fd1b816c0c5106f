package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/ledgersafe/common/database"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
)

// DefaultLockTimeout bounds how long a transaction waits on a ledger row.
const DefaultLockTimeout = 2 * time.Second

type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewPostgresStore(ctx context.Context, connString string, lockTimeout time.Duration) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &PostgresStore{pool: pool, lockTimeout: lockTimeout}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, cancel := database.TxContext(ctx)
	defer cancel()

	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return classify("begin transaction", err)
	}
	defer func() {
		// No-op after a successful commit.
		_ = pgTx.Rollback(context.WithoutCancel(ctx))
	}()

	// SET LOCAL does not accept bind parameters.
	if _, err := pgTx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return classify("set lock_timeout", err)
	}

	if err := fn(ctx, &pgStoreTx{tx: pgTx}); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

const exceptionColumns = `
	exception_id::text, tenant_id, raw_id, idempotency_key, reason_code,
	details, override_patch, status, assignee, created_at, resolved_at,
	resolution_action, resolution_notes, resolved_by, replay_attempts,
	last_replay_at, last_replay_result`

func (s *PostgresStore) ListExceptions(ctx context.Context, filter models.ExceptionFilter) ([]*models.Exception, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	query := `SELECT ` + exceptionColumns + `
		FROM exceptions
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR tenant_id = $2)
		ORDER BY created_at ASC, exception_id ASC
		LIMIT $3 OFFSET $4`

	rows, err := s.pool.Query(ctx, query, string(filter.Status), filter.TenantID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, classify("list exceptions", err)
	}
	defer rows.Close()

	var out []*models.Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, classify("scan exception", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list exceptions", err)
	}
	return out, nil
}

func (s *PostgresStore) GetException(ctx context.Context, exceptionID string) (*models.Exception, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	return getException(ctx, s.pool, exceptionID, false)
}

func (s *PostgresStore) GetRawEvent(ctx context.Context, rawID int64) (*models.RawEvent, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	return getRawEvent(ctx, s.pool, rawID)
}

func (s *PostgresStore) GetLedger(ctx context.Context, tenantID, key string) (*models.IdempotencyState, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	return getLedger(ctx, s.pool, tenantID, key, false)
}

func (s *PostgresStore) HealthCounters(ctx context.Context) (*models.HealthCounters, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var hc models.HealthCounters
	err := s.pool.QueryRow(ctx, `
		SELECT now(),
		       (SELECT count(*) FROM events_raw),
		       (SELECT count(*) FROM exceptions WHERE status = 'open')
	`).Scan(&hc.DBTime, &hc.RawEventCount, &hc.OpenExceptionCount)
	if err != nil {
		return nil, classify("health counters", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM events_processed GROUP BY status`)
	if err != nil {
		return nil, classify("ledger breakdown", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, classify("scan ledger breakdown", err)
		}
		hc.IdempotencyBreakdown.Add(models.LedgerStatus(status), n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("ledger breakdown", err)
	}
	return &hc, nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	query := `
		SELECT audit_id::text, occurred_at, actor, action, object_type, object_id,
		       before, after, notes, signature
		FROM audit_log
		WHERE ($1 = '' OR object_type = $1)
		  AND ($2 = '' OR object_id = $2)
		ORDER BY occurred_at DESC, audit_id DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, filter.ObjectType, filter.ObjectID, filter.Limit)
	if err != nil {
		return nil, classify("list audit", err)
	}
	defer rows.Close()

	var out []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(
			&e.AuditID, &e.OccurredAt, &e.Actor, &e.Action, &e.ObjectType, &e.ObjectID,
			&e.Before, &e.After, &e.Notes, &e.Signature,
		); err != nil {
			return nil, classify("scan audit", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list audit", err)
	}
	return out, nil
}

// =============================================================================
// TRANSACTION
// =============================================================================

type pgStoreTx struct {
	tx pgx.Tx
}

func (t *pgStoreTx) InsertRawEvent(ctx context.Context, ev *models.RawEvent) error {
	query := `
		INSERT INTO events_raw (
			tenant_id, store_id, source_system, schema_version, occurred_at,
			event_id, source_event_id, event_type, txn_id, payload_hash, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING raw_id, received_at`

	err := t.tx.QueryRow(ctx, query,
		ev.TenantID, ev.StoreID, ev.SourceSystem, ev.SchemaVersion, ev.OccurredAt,
		ev.EventID, ev.SourceEventID, ev.EventType, ev.TxnID, ev.PayloadHash, ev.Payload,
	).Scan(&ev.RawID, &ev.ReceivedAt)
	if err != nil {
		return classify("insert raw event", err)
	}
	return nil
}

func (t *pgStoreTx) GetRawEvent(ctx context.Context, rawID int64) (*models.RawEvent, error) {
	return getRawEvent(ctx, t.tx, rawID)
}

func (t *pgStoreTx) GetLedgerForUpdate(ctx context.Context, tenantID, key string) (*models.IdempotencyState, error) {
	return getLedger(ctx, t.tx, tenantID, key, true)
}

func (t *pgStoreTx) InsertLedger(ctx context.Context, s *models.IdempotencyState) error {
	query := `
		INSERT INTO events_processed (
			tenant_id, idempotency_key, status, first_seen_at, last_seen_at,
			first_raw_id, last_raw_id, first_payload_hash, last_payload_hash,
			applied_payload_hash, processed_at, last_error_code, exception_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := t.tx.Exec(ctx, query,
		s.TenantID, s.IdempotencyKey, string(s.Status), s.FirstSeenAt, s.LastSeenAt,
		s.FirstRawID, s.LastRawID, s.FirstPayloadHash, s.LastPayloadHash,
		s.AppliedPayloadHash, s.ProcessedAt, s.LastErrorCode, s.ExceptionID,
	)
	if err != nil {
		return classify("insert ledger", err)
	}
	return nil
}

func (t *pgStoreTx) UpdateLedger(ctx context.Context, s *models.IdempotencyState) error {
	query := `
		UPDATE events_processed SET
			status = $3,
			last_seen_at = $4,
			last_raw_id = $5,
			last_payload_hash = $6,
			applied_payload_hash = $7,
			processed_at = $8,
			last_error_code = $9,
			exception_id = $10
		WHERE tenant_id = $1 AND idempotency_key = $2`

	tag, err := t.tx.Exec(ctx, query,
		s.TenantID, s.IdempotencyKey, string(s.Status), s.LastSeenAt,
		s.LastRawID, s.LastPayloadHash, s.AppliedPayloadHash, s.ProcessedAt,
		s.LastErrorCode, s.ExceptionID,
	)
	if err != nil {
		return classify("update ledger", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update ledger: %w", ErrNotFound)
	}
	return nil
}

func (t *pgStoreTx) InsertException(ctx context.Context, e *models.Exception) error {
	query := `
		INSERT INTO exceptions (
			exception_id, tenant_id, raw_id, idempotency_key, reason_code,
			details, override_patch, status, assignee, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := t.tx.Exec(ctx, query,
		e.ExceptionID, e.TenantID, e.RawID, e.IdempotencyKey, string(e.ReasonCode),
		e.Details, e.OverridePatch, string(e.Status), e.Assignee, e.CreatedAt,
	)
	if err != nil {
		return classify("insert exception", err)
	}
	return nil
}

func (t *pgStoreTx) GetException(ctx context.Context, exceptionID string) (*models.Exception, error) {
	return getException(ctx, t.tx, exceptionID, false)
}

func (t *pgStoreTx) GetExceptionForUpdate(ctx context.Context, exceptionID string) (*models.Exception, error) {
	return getException(ctx, t.tx, exceptionID, true)
}

func (t *pgStoreTx) GetOpenExceptionForKey(ctx context.Context, tenantID, key string) (*models.Exception, error) {
	query := `SELECT ` + exceptionColumns + `
		FROM exceptions
		WHERE tenant_id = $1 AND idempotency_key = $2 AND status = 'open'
		FOR UPDATE`

	e, err := scanException(t.tx.QueryRow(ctx, query, tenantID, key))
	if err != nil {
		return nil, classify("get open exception", err)
	}
	return e, nil
}

func (t *pgStoreTx) UpdateException(ctx context.Context, e *models.Exception) error {
	query := `
		UPDATE exceptions SET
			override_patch = $2,
			status = $3,
			assignee = $4,
			resolved_at = $5,
			resolution_action = $6,
			resolution_notes = $7,
			resolved_by = $8,
			replay_attempts = $9,
			last_replay_at = $10,
			last_replay_result = $11
		WHERE exception_id = $1`

	tag, err := t.tx.Exec(ctx, query,
		e.ExceptionID, e.OverridePatch, string(e.Status), e.Assignee, e.ResolvedAt,
		e.ResolutionAction, e.ResolutionNotes, e.ResolvedBy, e.ReplayAttempts,
		e.LastReplayAt, e.LastReplayResult,
	)
	if err != nil {
		return classify("update exception", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update exception: %w", ErrNotFound)
	}
	return nil
}

func (t *pgStoreTx) InsertAudit(ctx context.Context, e *models.AuditEntry) error {
	query := `
		INSERT INTO audit_log (
			audit_id, occurred_at, actor, action, object_type, object_id,
			before, after, notes, signature
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := t.tx.Exec(ctx, query,
		e.AuditID, e.OccurredAt, e.Actor, e.Action, e.ObjectType, e.ObjectID,
		e.Before, e.After, e.Notes, e.Signature,
	)
	if err != nil {
		return classify("insert audit", err)
	}
	return nil
}

// =============================================================================
// SHARED SCANNERS
// =============================================================================

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getRawEvent(ctx context.Context, q querier, rawID int64) (*models.RawEvent, error) {
	query := `
		SELECT raw_id, tenant_id, store_id, source_system, schema_version,
		       received_at, occurred_at, event_id, source_event_id, event_type,
		       txn_id, payload_hash, payload
		FROM events_raw
		WHERE raw_id = $1`

	var ev models.RawEvent
	err := q.QueryRow(ctx, query, rawID).Scan(
		&ev.RawID, &ev.TenantID, &ev.StoreID, &ev.SourceSystem, &ev.SchemaVersion,
		&ev.ReceivedAt, &ev.OccurredAt, &ev.EventID, &ev.SourceEventID, &ev.EventType,
		&ev.TxnID, &ev.PayloadHash, &ev.Payload,
	)
	if err != nil {
		return nil, classify("get raw event", err)
	}
	return &ev, nil
}

func getLedger(ctx context.Context, q querier, tenantID, key string, forUpdate bool) (*models.IdempotencyState, error) {
	query := `
		SELECT tenant_id, idempotency_key, status, first_seen_at, last_seen_at,
		       first_raw_id, last_raw_id, first_payload_hash, last_payload_hash,
		       applied_payload_hash, processed_at, last_error_code, exception_id::text
		FROM events_processed
		WHERE tenant_id = $1 AND idempotency_key = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var s models.IdempotencyState
	var status string
	err := q.QueryRow(ctx, query, tenantID, key).Scan(
		&s.TenantID, &s.IdempotencyKey, &status, &s.FirstSeenAt, &s.LastSeenAt,
		&s.FirstRawID, &s.LastRawID, &s.FirstPayloadHash, &s.LastPayloadHash,
		&s.AppliedPayloadHash, &s.ProcessedAt, &s.LastErrorCode, &s.ExceptionID,
	)
	if err != nil {
		return nil, classify("get ledger", err)
	}
	s.Status = models.LedgerStatus(status)
	return &s, nil
}

func getException(ctx context.Context, q querier, exceptionID string, forUpdate bool) (*models.Exception, error) {
	if _, err := uuid.Parse(exceptionID); err != nil {
		return nil, fmt.Errorf("get exception: %w", ErrNotFound)
	}

	query := `SELECT ` + exceptionColumns + `
		FROM exceptions
		WHERE exception_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	e, err := scanException(q.QueryRow(ctx, query, exceptionID))
	if err != nil {
		return nil, classify("get exception", err)
	}
	return e, nil
}

func scanException(row pgx.Row) (*models.Exception, error) {
	var e models.Exception
	var reason, status string
	err := row.Scan(
		&e.ExceptionID, &e.TenantID, &e.RawID, &e.IdempotencyKey, &reason,
		&e.Details, &e.OverridePatch, &status, &e.Assignee, &e.CreatedAt, &e.ResolvedAt,
		&e.ResolutionAction, &e.ResolutionNotes, &e.ResolvedBy, &e.ReplayAttempts,
		&e.LastReplayAt, &e.LastReplayResult,
	)
	if err != nil {
		return nil, err
	}
	e.ReasonCode = models.ReasonCode(reason)
	e.Status = models.ExceptionStatus(status)
	return &e, nil
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*pgStoreTx)(nil)
)
