package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ApplyStatus tags the outcome of the guarded mutation after redemption.
type ApplyStatus string

const (
	ApplyApplied       ApplyStatus = "applied"
	ApplyAlreadyExists ApplyStatus = "already_exists"
	ApplyNotFound      ApplyStatus = "not_found"
	ApplyOwnerMismatch ApplyStatus = "owner_mismatch"
)

// ApplyOutcome describes what the mutator did. AlreadyExists, NotFound and
// OwnerMismatch are conflicts discovered at redemption time; they are
// reported, never silently ignored.
type ApplyOutcome struct {
	Status ApplyStatus `json:"status"`

	// AliasAddress is the full alias address touched by an alias intent.
	AliasAddress string `json:"alias_address,omitempty"`

	// CredentialPlain is the minted API key, returned exactly once and never
	// serialized by this type; the handler copies it into the response body
	// deliberately.
	CredentialPlain     string     `json:"-"`
	CredentialExpiresAt *time.Time `json:"credential_expires_at,omitempty"`
}

// Mutator applies the guarded mutation named by a confirmed record.
// internal/apply.Dispatcher is the production implementation.
type Mutator interface {
	Apply(ctx context.Context, p *Pending) (*ApplyOutcome, error)
}

// RedeemResult is returned on successful redemption.
type RedeemResult struct {
	Subject string        `json:"subject"`
	Intent  Intent        `json:"intent"`
	Payload Payload       `json:"payload"`
	Outcome *ApplyOutcome `json:"outcome"`
}

// Redeemer consumes confirmation secrets exactly once and dispatches the
// guarded mutation.
type Redeemer struct {
	store   Store
	mutator Mutator
	logger  *zap.Logger
	now     func() time.Time
}

// RedeemerOption customizes a Redeemer.
type RedeemerOption func(*Redeemer)

// WithRedeemerClock overrides the time source.
func WithRedeemerClock(now func() time.Time) RedeemerOption {
	return func(r *Redeemer) { r.now = now }
}

// NewRedeemer creates a Redeemer.
func NewRedeemer(store Store, mutator Mutator, logger *zap.Logger, opts ...RedeemerOption) *Redeemer {
	r := &Redeemer{store: store, mutator: mutator, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Redeem looks up the pending record by secret digest, transitions it to
// Confirmed exactly once, then applies the guarded mutation. Every miss —
// unknown, consumed, or expired — is the indistinguishable
// ErrInvalidOrExpired. A mutation failure after the transition returns
// ErrConfirmedNotApplied: the secret is spent and re-redemption will not
// retry the mutation.
func (r *Redeemer) Redeem(ctx context.Context, secretPlain string) (*RedeemResult, error) {
	if secretPlain == "" {
		return nil, ErrInvalidOrExpired
	}
	digest := Digest(secretPlain)

	var p *Pending
	err := r.store.InTx(ctx, func(ops StoreOps) error {
		now := r.now().UTC()

		found, err := ops.GetByDigest(ctx, digest, now)
		if errors.Is(err, ErrNoPending) {
			return ErrInvalidOrExpired
		}
		if err != nil {
			return err
		}

		ok, err := ops.Confirm(ctx, found.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			// Lost the race to a concurrent redemption, or expired between
			// lookup and update.
			return ErrInvalidOrExpired
		}

		confirmedAt := now
		found.Status = StatusConfirmed
		found.ConfirmedAt = &confirmedAt
		p = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome, err := r.mutator.Apply(ctx, p)
	if err != nil {
		r.logger.Error("confirmed but mutation failed",
			zap.String("confirmation_id", p.ID.String()),
			zap.String("intent", string(p.Intent)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: confirmation %s: %v", ErrConfirmedNotApplied, p.ID, err)
	}

	r.logger.Info("confirmation redeemed",
		zap.String("confirmation_id", p.ID.String()),
		zap.String("subject", p.Subject),
		zap.String("intent", string(p.Intent)),
		zap.String("apply_status", string(outcome.Status)),
	)
	return &RedeemResult{Subject: p.Subject, Intent: p.Intent, Payload: p.Payload, Outcome: outcome}, nil
}
