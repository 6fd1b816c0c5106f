package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      error
		retryable bool
	}{
		{"no rows", pgx.ErrNoRows, ErrNotFound, false},
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "uq_exceptions_open_key"}, ErrConflict, true},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, ErrLockTimeout, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, ErrSerialization, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, ErrSerialization, true},
		{"wrapped unique violation", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505"}), ErrConflict, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.Equal(t, tt.retryable, IsRetryable(got))
		})
	}
}

func TestClassify_Passthrough(t *testing.T) {
	assert.NoError(t, classify("op", nil))

	base := errors.New("connection reset")
	got := classify("insert raw event", base)
	assert.ErrorIs(t, got, base)
	assert.Contains(t, got.Error(), "insert raw event")
	assert.False(t, IsRetryable(got))

	other := classify("op", &pgconn.PgError{Code: "23502"})
	assert.NotErrorIs(t, other, ErrConflict)
	var pgErr *pgconn.PgError
	assert.ErrorAs(t, other, &pgErr)
}
