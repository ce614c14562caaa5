package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// RetryPolicy bounds how often and how slowly a statement is retried.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// insertRetry covers the pooler hiccups seen when an upload burst lands on
// a Supabase session pooler.
var insertRetry = RetryPolicy{Attempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}

// retriableCodes are SQLSTATEs after which the statement is known not to
// have committed.
var retriableCodes = map[string]bool{
	"40001": true, // serialization_failure
	"53300": true, // too_many_connections, pooler saturated
	"57P01": true, // admin_shutdown, pooler recycled the backend
	"57P03": true, // cannot_connect_now, database starting up
}

// isRetriable reports whether err is safe to retry: either the connection
// failed before anything was sent, or Postgres rolled the statement back.
func isRetriable(err error) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && retriableCodes[pgErr.Code]
}

// WithRetry runs fn until it succeeds, fails with a non-retriable error, or
// p.Attempts runs are used up. Delays double from p.BaseDelay, capped at
// p.MaxDelay, with up to 100% jitter.
func WithRetry(ctx context.Context, p RetryPolicy, fn func() error) error {
	attempts := max(p.Attempts, 1)
	delay := p.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !isRetriable(err) || attempt == attempts {
			return err
		}
		wait := delay
		if delay > 0 {
			wait += time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
