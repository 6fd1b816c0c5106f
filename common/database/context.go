package database

import (
	"context"
	"time"
)

// Standard timeouts for storage calls.
const (
	// DefaultQueryTimeout bounds read-only queries.
	DefaultQueryTimeout = 5 * time.Second

	// DefaultTxTimeout bounds a whole read-decide-write transaction,
	// including time spent waiting on row locks.
	DefaultTxTimeout = 10 * time.Second

	// DefaultMigrateTimeout bounds schema migrations at startup.
	DefaultMigrateTimeout = 60 * time.Second
)

// QueryContext creates a context with DefaultQueryTimeout.
func QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultQueryTimeout)
}

// TxContext creates a context with DefaultTxTimeout.
func TxContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultTxTimeout)
}

// MigrateContext creates a context with DefaultMigrateTimeout.
func MigrateContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultMigrateTimeout)
}
