package confirm

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store gives the issuer and redeemer transactional access to pending
// confirmations. *Repository is the PostgreSQL implementation; tests use an
// in-memory stub that serializes InTx calls.
type Store interface {
	// InTx runs fn inside one retryable transaction. Every StoreOps call made
	// by fn sees the same transaction; an error from fn rolls everything back.
	InTx(ctx context.Context, fn func(ops StoreOps) error) error
}

// StoreOps are the row operations available inside a Store transaction.
type StoreOps interface {
	// ExpireStale flips pending rows for the subject and scope whose expiry
	// has passed to StatusExpired, clearing the way for a fresh insert under
	// the partial unique index.
	ExpireStale(ctx context.Context, subject string, scope Scope, now time.Time) error

	// GetForUpdate locks and returns the live pending row for the subject and
	// scope, or ErrNoPending.
	GetForUpdate(ctx context.Context, subject string, scope Scope, now time.Time) (*Pending, error)

	// Insert stores a new pending row. Returns ErrDuplicatePending when a
	// concurrent transaction won the insert race; the PostgreSQL uniqueness
	// violation aborts the transaction, so callers must restart it rather
	// than issue further statements.
	Insert(ctx context.Context, p *Pending) error

	// Rotate swaps in a freshly generated secret digest, increments the send
	// counter and refreshes the last-sent timestamp.
	Rotate(ctx context.Context, id uuid.UUID, digest string, sentAt time.Time) error

	// GetByDigest returns the pending, unexpired row carrying the digest, or
	// ErrNoPending.
	GetByDigest(ctx context.Context, digest string, now time.Time) (*Pending, error)

	// Confirm conditionally transitions the row to StatusConfirmed. It
	// reports false when the row was already consumed or expired — the single
	// mechanism that makes redemption exactly-once.
	Confirm(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}
