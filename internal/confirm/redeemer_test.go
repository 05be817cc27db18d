package confirm

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

// mutatorStub records what it was asked to apply.
type mutatorStub struct {
	applied []*Pending
	outcome *ApplyOutcome
	err     error
}

func (m *mutatorStub) Apply(ctx context.Context, p *Pending) (*ApplyOutcome, error) {
	m.applied = append(m.applied, p)
	if m.err != nil {
		return nil, m.err
	}
	if m.outcome != nil {
		return m.outcome, nil
	}
	return &ApplyOutcome{Status: ApplyApplied}, nil
}

// issueSecret seeds the store through the issuer and returns the plaintext
// secret as delivered to the sink.
func issueSecret(t *testing.T, store *memStore, clock *fakeClock, intent Intent, payload Payload) string {
	t.Helper()
	sink := &sinkStub{}
	issuer := NewIssuer(store, sink, testPolicies(), zap.NewNop(), WithIssuerClock(clock.now))
	if _, err := issuer.Request(context.Background(), "user@example.org", intent, payload); err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return sink.last()
}

func TestRedeemAppliesExactlyOnce(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	secret := issueSecret(t, store, clock, IntentCreateAlias, Payload{Domain: "mail.example.com"})

	mutator := &mutatorStub{outcome: &ApplyOutcome{Status: ApplyApplied, AliasAddress: "x7k2m9qp4wnd@mail.example.com"}}
	redeemer := NewRedeemer(store, mutator, zap.NewNop(), WithRedeemerClock(clock.now))

	res, err := redeemer.Redeem(context.Background(), secret)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if res.Subject != "user@example.org" || res.Intent != IntentCreateAlias {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Outcome.Status != ApplyApplied || res.Outcome.AliasAddress == "" {
		t.Errorf("unexpected outcome: %+v", res.Outcome)
	}
	if len(mutator.applied) != 1 {
		t.Fatalf("mutator applied %d times, want 1", len(mutator.applied))
	}
	if mutator.applied[0].Status != StatusConfirmed || mutator.applied[0].ConfirmedAt == nil {
		t.Error("mutator saw a record that was not marked confirmed")
	}

	// The secret is spent: a second redemption must not re-run the mutation.
	if _, err := redeemer.Redeem(context.Background(), secret); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("second redeem err = %v, want ErrInvalidOrExpired", err)
	}
	if len(mutator.applied) != 1 {
		t.Errorf("mutator applied %d times after replay, want 1", len(mutator.applied))
	}
}

func TestRedeemUnknownEmptyAndExpiredAreIndistinguishable(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	secret := issueSecret(t, store, clock, IntentCreateAlias, Payload{Domain: "mail.example.com"})

	mutator := &mutatorStub{}
	redeemer := NewRedeemer(store, mutator, zap.NewNop(), WithRedeemerClock(clock.now))

	if _, err := redeemer.Redeem(context.Background(), ""); !errors.Is(err, ErrInvalidOrExpired) {
		t.Errorf("empty token err = %v, want ErrInvalidOrExpired", err)
	}
	if _, err := redeemer.Redeem(context.Background(), "00000000"); !errors.Is(err, ErrInvalidOrExpired) {
		t.Errorf("unknown token err = %v, want ErrInvalidOrExpired", err)
	}

	// Past the TTL the real secret is just as dead.
	clock.advance(31 * time.Minute)
	if _, err := redeemer.Redeem(context.Background(), secret); !errors.Is(err, ErrInvalidOrExpired) {
		t.Errorf("expired token err = %v, want ErrInvalidOrExpired", err)
	}
	if len(mutator.applied) != 0 {
		t.Errorf("mutator ran %d times, want 0", len(mutator.applied))
	}
}

func TestRedeemOldSecretDeadAfterRotation(t *testing.T) {
	store := newMemStore()
	sink := &sinkStub{}
	clock := newFakeClock()
	issuer := NewIssuer(store, sink, testPolicies(), zap.NewNop(), WithIssuerClock(clock.now))

	if _, err := issuer.Request(context.Background(), "user@example.org", IntentCreateAlias,
		Payload{Domain: "mail.example.com"}); err != nil {
		t.Fatalf("first request: %v", err)
	}
	first := sink.last()

	clock.advance(2 * time.Minute)
	if _, err := issuer.Request(context.Background(), "user@example.org", IntentCreateAlias,
		Payload{Domain: "mail.example.com"}); err != nil {
		t.Fatalf("resend: %v", err)
	}
	second := sink.last()

	mutator := &mutatorStub{}
	redeemer := NewRedeemer(store, mutator, zap.NewNop(), WithRedeemerClock(clock.now))

	if _, err := redeemer.Redeem(context.Background(), first); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("rotated-out secret err = %v, want ErrInvalidOrExpired", err)
	}
	if _, err := redeemer.Redeem(context.Background(), second); err != nil {
		t.Fatalf("current secret: %v", err)
	}
}

func TestRedeemMutationFailureSpendsSecret(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	secret := issueSecret(t, store, clock, IntentDeleteAlias,
		Payload{LocalPart: "shopping", Domain: "mail.example.com"})

	mutator := &mutatorStub{err: errors.New("database offline")}
	redeemer := NewRedeemer(store, mutator, zap.NewNop(), WithRedeemerClock(clock.now))

	_, err := redeemer.Redeem(context.Background(), secret)
	if !errors.Is(err, ErrConfirmedNotApplied) {
		t.Fatalf("err = %v, want ErrConfirmedNotApplied", err)
	}

	// The confirmation committed before the mutation ran, so the secret
	// cannot be replayed to retry it.
	if _, err := redeemer.Redeem(context.Background(), secret); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("replay err = %v, want ErrInvalidOrExpired", err)
	}
}

func TestRedeemConflictOutcomesPassThrough(t *testing.T) {
	for _, status := range []ApplyStatus{ApplyAlreadyExists, ApplyNotFound, ApplyOwnerMismatch} {
		t.Run(string(status), func(t *testing.T) {
			store := newMemStore()
			clock := newFakeClock()
			secret := issueSecret(t, store, clock, IntentCreateAliasAddress,
				Payload{LocalPart: "shopping", Domain: "mail.example.com"})

			mutator := &mutatorStub{outcome: &ApplyOutcome{Status: status}}
			redeemer := NewRedeemer(store, mutator, zap.NewNop(), WithRedeemerClock(clock.now))

			res, err := redeemer.Redeem(context.Background(), secret)
			if err != nil {
				t.Fatalf("Redeem: %v", err)
			}
			// A conflict is a reported outcome, not an error — and it still
			// consumes the secret.
			if res.Outcome.Status != status {
				t.Errorf("outcome = %s, want %s", res.Outcome.Status, status)
			}
			if _, err := redeemer.Redeem(context.Background(), secret); !errors.Is(err, ErrInvalidOrExpired) {
				t.Errorf("replay err = %v, want ErrInvalidOrExpired", err)
			}
		})
	}
}
