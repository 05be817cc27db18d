package database

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrBusy is returned when a transaction keeps hitting transient lock
// conflicts until the retry budget is exhausted. Callers should map it to a
// retryable "try again shortly" response, not a generic failure.
var ErrBusy = errors.New("database busy")

// RetryConfig bounds the retry behaviour of RunTx.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt, so a
	// unit of work is attempted at most MaxRetries+1 times.
	MaxRetries int
	// MinDelay and MaxDelay bound the randomized sleep between attempts.
	// The delay is drawn uniformly from [MinDelay, MaxDelay) so competing
	// retries desynchronize instead of colliding again in lockstep.
	MinDelay time.Duration
	MaxDelay time.Duration
}

// DefaultRetryConfig returns the retry bounds used by the services.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		MinDelay:   25 * time.Millisecond,
		MaxDelay:   250 * time.Millisecond,
	}
}

// IsTransient reports whether err is a transient lock/serialization conflict
// that a fresh transaction may not hit again. Context cancellation and
// constraint violations are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03": // lock_not_available
			return true
		}
	}
	return false
}

// txRunner abstracts pgxpool.Pool so RunTx can be exercised without a live
// database. *pgxpool.Pool satisfies it.
type txRunner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RunTx executes fn inside a single database transaction, committing on
// success and rolling back on error. Transient lock conflicts (see
// IsTransient) are retried with a bounded, jittered delay; when the budget
// is exhausted the last error is wrapped in ErrBusy. Non-transient errors
// propagate immediately.
func RunTx(ctx context.Context, db txRunner, cfg RetryConfig, fn func(ctx context.Context, tx pgx.Tx) error) error {
	attempts := cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jitter(cfg.MinDelay, cfg.MaxDelay)):
			}
		}

		err := runOnce(ctx, db, fn)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %d attempts exhausted: %v", ErrBusy, attempts, lastErr)
}

func runOnce(ctx context.Context, db txRunner, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// jitter returns a duration drawn uniformly from [min, max).
func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

var _ txRunner = (*pgxpool.Pool)(nil)
