package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink delivers a one-time secret out of band after a successful issue or
// resend. internal/email.Mailer is the production implementation.
type Sink interface {
	Deliver(ctx context.Context, subject string, intent Intent, secret string, expiresAt time.Time) error
}

// Policy bounds issuance for one uniqueness scope.
type Policy struct {
	// TTL is how long an issued secret stays redeemable.
	TTL time.Duration
	// Cooldown is the minimum spacing between successive sends for the same
	// pending row.
	Cooldown time.Duration
	// MaxSends caps how many secrets one pending row may issue. Exceeding it
	// blocks further resends without invalidating the still-valid secret.
	MaxSends int
	// Shape controls the secret alphabet and length.
	Shape SecretShape
}

// DefaultPolicies returns the per-scope issuance policies: short typed codes
// for the alias flows, a long opaque token for credential issuance.
func DefaultPolicies() map[Scope]Policy {
	alias := Policy{TTL: 30 * time.Minute, Cooldown: time.Minute, MaxSends: 3, Shape: ShapeNumericCode}
	return map[Scope]Policy{
		ScopeAliasCreate: alias,
		ScopeAliasDelete: alias,
		ScopeCredential:  {TTL: time.Hour, Cooldown: time.Minute, MaxSends: 3, Shape: ShapeOpaqueToken},
	}
}

// IssueAction tags the outcome of a token request. The throttle outcomes are
// expected results, not failures.
type IssueAction string

const (
	ActionCreated     IssueAction = "created"
	ActionResent      IssueAction = "resent"
	ActionCooldown    IssueAction = "cooldown"
	ActionRateLimited IssueAction = "rate_limited"
)

// Meta carries the throttle state callers need to build user-facing
// messaging without a second query.
type Meta struct {
	ExpiresAt         time.Time `json:"expires_at"`
	LastSentAt        time.Time `json:"last_sent_at"`
	SendCount         int       `json:"send_count"`
	RemainingAttempts int       `json:"remaining_attempts"`
	NextAllowedSendAt time.Time `json:"next_allowed_send_at"`
}

// IssueResult is the tagged outcome of Issuer.Request.
type IssueResult struct {
	Action IssueAction `json:"action"`
	// Sent is false when a throttle branch prevented issuance; that is a
	// normal outcome, not a delivery failure.
	Sent bool `json:"sent"`
	Meta Meta `json:"meta"`

	// SecretPlain is set only for created/resent and only lives in process
	// memory on its way to the sink. It never appears in a response body.
	SecretPlain string `json:"-"`
}

// Issuer decides, per subject and scope, whether to create a pending
// confirmation, rotate and resend its secret, or refuse under cooldown or
// the resend limit.
type Issuer struct {
	store    Store
	sink     Sink
	policies map[Scope]Policy
	logger   *zap.Logger
	now      func() time.Time
}

// IssuerOption customizes an Issuer.
type IssuerOption func(*Issuer)

// WithIssuerClock overrides the time source. Tests use this to walk through
// cooldown windows.
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(s *Issuer) { s.now = now }
}

// NewIssuer creates an Issuer. Pass nil policies to use DefaultPolicies.
func NewIssuer(store Store, sink Sink, policies map[Scope]Policy, logger *zap.Logger, opts ...IssuerOption) *Issuer {
	if policies == nil {
		policies = DefaultPolicies()
	}
	s := &Issuer{store: store, sink: sink, policies: policies, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request issues or re-issues a confirmation secret for subject and intent.
// Validation failures return ErrInvalidInput before any storage access;
// cooldown and rate-limit are reported in the result, not as errors. On
// created/resent the secret is handed to the sink; a delivery failure is a
// hard error.
func (s *Issuer) Request(ctx context.Context, rawSubject string, intent Intent, payload Payload) (*IssueResult, error) {
	subject, err := NormalizeSubject(rawSubject)
	if err != nil {
		return nil, err
	}
	if _, err := ParseIntent(string(intent)); err != nil {
		return nil, err
	}
	payload, err = normalizePayload(intent, payload)
	if err != nil {
		return nil, err
	}

	pol, ok := s.policies[intent.Scope()]
	if !ok {
		return nil, fmt.Errorf("no policy configured for scope %q", intent.Scope())
	}

	res, err := s.issueOnce(ctx, subject, intent, payload, pol)
	if errors.Is(err, ErrDuplicatePending) {
		// Two first-time requests raced; the other insert won and its row is
		// now visible. Re-run the transaction as if the row had existed.
		res, err = s.issueOnce(ctx, subject, intent, payload, pol)
	}
	if err != nil {
		return nil, err
	}

	switch res.Action {
	case ActionCreated, ActionResent:
		if err := s.sink.Deliver(ctx, subject, intent, res.SecretPlain, res.Meta.ExpiresAt); err != nil {
			return nil, fmt.Errorf("deliver confirmation secret: %w", err)
		}
		res.Sent = true
	case ActionCooldown, ActionRateLimited:
		res.Sent = false
	}

	s.logger.Info("confirmation requested",
		zap.String("subject", subject),
		zap.String("intent", string(intent)),
		zap.String("action", string(res.Action)),
		zap.Int("send_count", res.Meta.SendCount),
	)
	return res, nil
}

// issueOnce runs the issue decision inside one transaction: expire stale
// rows, lock the live one, then create, refuse, or rotate.
func (s *Issuer) issueOnce(ctx context.Context, subject string, intent Intent, payload Payload, pol Policy) (*IssueResult, error) {
	secret, err := pol.Shape.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	digest := Digest(secret)
	scope := intent.Scope()

	var res *IssueResult
	err = s.store.InTx(ctx, func(ops StoreOps) error {
		now := s.now().UTC()

		if err := ops.ExpireStale(ctx, subject, scope, now); err != nil {
			return err
		}

		p, err := ops.GetForUpdate(ctx, subject, scope, now)
		if errors.Is(err, ErrNoPending) {
			p = &Pending{
				ID:           uuid.New(),
				Subject:      subject,
				Scope:        scope,
				Intent:       intent,
				Payload:      payload,
				SecretDigest: digest,
				Status:       StatusPending,
				SendCount:    1,
				CreatedAt:    now,
				LastSentAt:   now,
				ExpiresAt:    now.Add(pol.TTL),
			}
			if err := ops.Insert(ctx, p); err != nil {
				return err
			}
			res = &IssueResult{Action: ActionCreated, SecretPlain: secret, Meta: metaFor(p, pol)}
			return nil
		}
		if err != nil {
			return err
		}

		if now.Before(p.LastSentAt.Add(pol.Cooldown)) {
			res = &IssueResult{Action: ActionCooldown, Meta: metaFor(p, pol)}
			return nil
		}
		if p.SendCount >= pol.MaxSends {
			res = &IssueResult{Action: ActionRateLimited, Meta: metaFor(p, pol)}
			return nil
		}

		if err := ops.Rotate(ctx, p.ID, digest, now); err != nil {
			return err
		}
		p.SecretDigest = digest
		p.SendCount++
		p.LastSentAt = now
		res = &IssueResult{Action: ActionResent, SecretPlain: secret, Meta: metaFor(p, pol)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func metaFor(p *Pending, pol Policy) Meta {
	remaining := pol.MaxSends - p.SendCount
	if remaining < 0 {
		remaining = 0
	}
	return Meta{
		ExpiresAt:         p.ExpiresAt,
		LastSentAt:        p.LastSentAt,
		SendCount:         p.SendCount,
		RemainingAttempts: remaining,
		NextAllowedSendAt: p.LastSentAt.Add(pol.Cooldown),
	}
}
