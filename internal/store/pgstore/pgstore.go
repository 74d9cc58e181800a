// Package pgstore implements store.Store against PostgreSQL via sqlx and
// lib/pq, following the teacher's pkg/repository/postgres layering: a
// shared DB handle, pq.Error translation into the core's closed error
// taxonomy, and metrics/backoff around the single-writer transaction path
// (§5 Concurrency & Resource Model).
package pgstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/observability"
)

// Store implements store.Store over a single *sqlx.DB. Unlike memstore's
// in-process work queue, the single-writer discipline here is enforced by
// Postgres row locking (SELECT ... FOR UPDATE in GetTaskForUpdate) plus a
// bounded retry loop over serialization failures.
type Store struct {
	db        *sqlx.DB
	logger    observability.Logger
	queryHist prometheus.Histogram
	retries   prometheus.Counter
	maxRetry  int
}

// Config configures a pgstore.Store.
type Config struct {
	DSN      string
	MaxRetry int
	Logger   observability.Logger
	Registry *prometheus.Registry
}

// New opens a connection pool and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "pgstore: connect")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	maxRetry := cfg.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 5
	}

	s := &Store{db: db, logger: cfg.Logger, maxRetry: maxRetry}
	if cfg.Registry != nil {
		s.queryHist = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "taskcore_pgstore_query_duration_seconds",
			Help: "Duration of pgstore queries.",
		})
		s.retries = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskcore_pgstore_write_retries_total",
			Help: "Write transactions retried after a serialization failure.",
		})
		cfg.Registry.MustRegister(s.queryHist, s.retries)
	}

	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// translateErr maps a raw database error onto the core's closed error
// taxonomy, mirroring the teacher's BaseRepository.TranslateError.
func translateErr(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound("%s not found", entity)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return errs.Conflict("%s: duplicate key: %s", entity, pqErr.Constraint)
		case "23503": // foreign_key_violation
			return errs.Validation("%s: foreign key violation: %s", entity, pqErr.Constraint)
		case "23502": // not_null_violation
			return errs.Validation("%s: required field missing: %s", entity, pqErr.Column)
		case "23514": // check_violation
			return errs.Validation("%s: check constraint violation: %s", entity, pqErr.Constraint)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return errs.TransactionAborted("%s: %s", entity, pqErr.Message)
		}
	}
	return errs.Fatal("%s: %v", entity, err)
}

// observe times a query and records it against queryHist, if registered.
func (s *Store) observe(start time.Time) {
	if s.queryHist != nil {
		s.queryHist.Observe(time.Since(start).Seconds())
	}
}

// retryBackoff is the exponential backoff policy applied to retryable
// WriteTx failures.
func (s *Store) retryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	return backoff.WithMaxRetries(b, uint64(s.maxRetry))
}
