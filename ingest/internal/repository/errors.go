package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("unique constraint violation")
	ErrLockTimeout   = errors.New("lock wait timed out")
	ErrSerialization = errors.New("serialization failure")
)

// Postgres error codes the repository translates.
const (
	pgUniqueViolation      = "23505"
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// IsRetryable reports whether err means the transaction should be run again
// from the start.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrSerialization)
}

// classify maps driver errors onto repository sentinels. The original error
// stays in the chain.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, ErrConflict, pgErr.ConstraintName)
		case pgLockNotAvailable:
			return fmt.Errorf("%s: %w", op, ErrLockTimeout)
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%s: %w", op, ErrSerialization)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
