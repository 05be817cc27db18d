package confirm

import "errors"

var (
	// ErrInvalidInput marks validation failures caught before any storage
	// access. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidOrExpired is the single answer for every redemption miss:
	// unknown secret, already consumed, or past expiry. Collapsing the three
	// is deliberate; the response must not reveal which one happened.
	ErrInvalidOrExpired = errors.New("confirmation invalid or expired")

	// ErrConfirmedNotApplied reports that a secret was consumed (the row is
	// Confirmed and the secret is dead) but the guarded mutation failed.
	// This state must stay observable and is never collapsed into
	// ErrInvalidOrExpired.
	ErrConfirmedNotApplied = errors.New("confirmation accepted but mutation failed")

	// ErrNoPending is returned by store lookups that find no live pending row.
	ErrNoPending = errors.New("no pending confirmation")

	// ErrDuplicatePending surfaces the unique-index violation raised when two
	// transactions insert a first pending row for the same subject and scope.
	ErrDuplicatePending = errors.New("pending confirmation already exists")
)
