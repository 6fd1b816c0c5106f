// Package service holds the ingestion decision engine and the resolution
// engine. Every state change runs as one repository transaction; side
// effects (notifications, tenant stats, dead letters) happen after commit.
package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/telhawk-systems/ledgersafe/common/logging"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/audit"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/metrics"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/repository"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/validator"
)

// Config tunes retry behaviour.
type Config struct {
	// MaxAttempts bounds how many times a transaction is run when it hits a
	// unique violation or serialization failure.
	MaxAttempts int
	// RetryBackoff is the base delay between attempts.
	RetryBackoff time.Duration
	// RetryAfter is the hint handed back to callers with ErrTransient.
	RetryAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		RetryBackoff: 10 * time.Millisecond,
		RetryAfter:   time.Second,
	}
}

type Service struct {
	store      repository.Store
	validator  *validator.Validator
	audit      *audit.Recorder
	notifier   Notifier
	stats      StatsRecorder
	deadLetter DeadLetterWriter
	logger     *logging.Logger
	cfg        Config
	now        func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithStats(r StatsRecorder) Option {
	return func(s *Service) { s.stats = r }
}

func WithDeadLetter(w DeadLetterWriter) Option {
	return func(s *Service) { s.deadLetter = w }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store repository.Store, v *validator.Validator, recorder *audit.Recorder, cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = def.RetryAfter
	}

	s := &Service{
		store:      store,
		validator:  v,
		audit:      recorder,
		notifier:   noopNotifier{},
		stats:      noopStats{},
		deadLetter: noopDeadLetter{},
		logger:     logging.Default(),
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validator exposes the request validator so transports share one allowlist.
func (s *Service) Validator() *validator.Validator {
	return s.validator
}

// runTx runs fn in a transaction, re-running it from scratch when a
// concurrent writer got there first. fn must not keep state across calls.
func (s *Service) runTx(ctx context.Context, op string, fn func(ctx context.Context, tx repository.Tx) error) error {
	timer := time.Now()
	defer func() {
		metrics.DecisionDuration.WithLabelValues(op).Observe(time.Since(timer).Seconds())
	}()

	for attempt := 1; ; attempt++ {
		err := s.store.WithinTx(ctx, fn)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		retryable := repository.IsRetryable(err)
		if retryable && attempt < s.cfg.MaxAttempts {
			metrics.TransactionRetries.WithLabelValues(op, retryCause(err)).Inc()
			s.logger.WarnContext(ctx, "retrying transaction",
				logging.Action(op),
				logging.Attempt(attempt),
				logging.Error(err),
			)
			if err := s.backoff(ctx, attempt); err != nil {
				return err
			}
			continue
		}

		if retryable || errors.Is(err, repository.ErrLockTimeout) {
			metrics.TransientFailures.WithLabelValues(op).Inc()
			return &TransientError{Op: op, RetryAfter: s.cfg.RetryAfter, Err: err}
		}
		return err
	}
}

func (s *Service) backoff(ctx context.Context, attempt int) error {
	d := s.cfg.RetryBackoff * time.Duration(attempt)
	d += time.Duration(rand.Int64N(int64(s.cfg.RetryBackoff)))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryCause(err error) string {
	if errors.Is(err, repository.ErrConflict) {
		return "conflict"
	}
	return "serialization"
}
