package apply

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftmail/driftmail/internal/alias"
	"github.com/driftmail/driftmail/internal/confirm"
	"github.com/driftmail/driftmail/internal/credential"
)

type aliasStub struct {
	created   *alias.Alias
	wasNew    bool
	removeErr error
	err       error

	generateCalls int
	createCalls   int
	removeCalls   int
}

func (s *aliasStub) CreateForwarding(ctx context.Context, localPart, domain, destination string) (*alias.Alias, bool, error) {
	s.createCalls++
	if s.err != nil {
		return nil, false, s.err
	}
	return s.created, s.wasNew, nil
}

func (s *aliasStub) GenerateForwarding(ctx context.Context, domain, destination string) (*alias.Alias, error) {
	s.generateCalls++
	if s.err != nil {
		return nil, s.err
	}
	return s.created, nil
}

func (s *aliasStub) Remove(ctx context.Context, address, expectedOwner string) error {
	s.removeCalls++
	return s.removeErr
}

type minterStub struct {
	plain string
	cred  *credential.Credential
	err   error
	calls int
}

func (s *minterStub) Mint(ctx context.Context, owner string, lifetimeDays int) (string, *credential.Credential, error) {
	s.calls++
	if s.err != nil {
		return "", nil, s.err
	}
	return s.plain, s.cred, nil
}

func pendingFor(intent confirm.Intent, payload confirm.Payload) *confirm.Pending {
	return &confirm.Pending{
		ID:      uuid.New(),
		Subject: "user@example.org",
		Scope:   intent.Scope(),
		Intent:  intent,
		Payload: payload,
		Status:  confirm.StatusConfirmed,
	}
}

func TestApplyCreateAlias(t *testing.T) {
	aliases := &aliasStub{created: &alias.Alias{Address: "x7k2m9qp4wnd@mail.example.com"}}
	d := NewDispatcher(aliases, &minterStub{}, zap.NewNop())

	out, err := d.Apply(context.Background(), pendingFor(confirm.IntentCreateAlias,
		confirm.Payload{Domain: "mail.example.com"}))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Status != confirm.ApplyApplied || out.AliasAddress != "x7k2m9qp4wnd@mail.example.com" {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if aliases.generateCalls != 1 || aliases.createCalls != 0 {
		t.Errorf("wrong service call: generate=%d create=%d", aliases.generateCalls, aliases.createCalls)
	}
}

func TestApplyCreateAliasAddress(t *testing.T) {
	t.Run("fresh address applies", func(t *testing.T) {
		aliases := &aliasStub{created: &alias.Alias{Address: "shopping@mail.example.com"}, wasNew: true}
		d := NewDispatcher(aliases, &minterStub{}, zap.NewNop())

		out, err := d.Apply(context.Background(), pendingFor(confirm.IntentCreateAliasAddress,
			confirm.Payload{LocalPart: "shopping", Domain: "mail.example.com"}))
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if out.Status != confirm.ApplyApplied {
			t.Errorf("status = %s, want applied", out.Status)
		}
	})

	t.Run("taken address reports conflict without error", func(t *testing.T) {
		aliases := &aliasStub{created: &alias.Alias{Address: "shopping@mail.example.com"}, wasNew: false}
		d := NewDispatcher(aliases, &minterStub{}, zap.NewNop())

		out, err := d.Apply(context.Background(), pendingFor(confirm.IntentCreateAliasAddress,
			confirm.Payload{LocalPart: "shopping", Domain: "mail.example.com"}))
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if out.Status != confirm.ApplyAlreadyExists {
			t.Errorf("status = %s, want already_exists", out.Status)
		}
	})
}

func TestApplyDeleteAlias(t *testing.T) {
	cases := []struct {
		name      string
		removeErr error
		want      confirm.ApplyStatus
	}{
		{"removed", nil, confirm.ApplyApplied},
		{"missing", alias.ErrNotFound, confirm.ApplyNotFound},
		{"foreign", alias.ErrOwnerMismatch, confirm.ApplyOwnerMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			aliases := &aliasStub{removeErr: tc.removeErr}
			d := NewDispatcher(aliases, &minterStub{}, zap.NewNop())

			out, err := d.Apply(context.Background(), pendingFor(confirm.IntentDeleteAlias,
				confirm.Payload{LocalPart: "shopping", Domain: "mail.example.com"}))
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if out.Status != tc.want {
				t.Errorf("status = %s, want %s", out.Status, tc.want)
			}
			if out.AliasAddress != "shopping@mail.example.com" {
				t.Errorf("address = %q", out.AliasAddress)
			}
		})
	}

	t.Run("unexpected errors propagate", func(t *testing.T) {
		aliases := &aliasStub{removeErr: errors.New("connection reset")}
		d := NewDispatcher(aliases, &minterStub{}, zap.NewNop())

		if _, err := d.Apply(context.Background(), pendingFor(confirm.IntentDeleteAlias,
			confirm.Payload{LocalPart: "shopping", Domain: "mail.example.com"})); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestApplyIssueCredential(t *testing.T) {
	expires := time.Date(2026, 6, 12, 9, 0, 0, 0, time.UTC)
	minter := &minterStub{
		plain: "dm_deadbeef",
		cred:  &credential.Credential{ID: uuid.New(), OwnerSubject: "user@example.org", ExpiresAt: expires},
	}
	d := NewDispatcher(&aliasStub{}, minter, zap.NewNop())

	out, err := d.Apply(context.Background(), pendingFor(confirm.IntentIssueCredential,
		confirm.Payload{LifetimeDays: 90}))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Status != confirm.ApplyApplied {
		t.Errorf("status = %s, want applied", out.Status)
	}
	if out.CredentialPlain != "dm_deadbeef" {
		t.Errorf("plaintext = %q", out.CredentialPlain)
	}
	if out.CredentialExpiresAt == nil || !out.CredentialExpiresAt.Equal(expires) {
		t.Errorf("expires = %v, want %v", out.CredentialExpiresAt, expires)
	}
}

func TestApplyUnknownIntent(t *testing.T) {
	d := NewDispatcher(&aliasStub{}, &minterStub{}, zap.NewNop())

	p := pendingFor(confirm.IntentCreateAlias, confirm.Payload{})
	p.Intent = confirm.Intent("reboot_server")
	if _, err := d.Apply(context.Background(), p); err == nil {
		t.Fatal("expected error for unknown intent")
	}
}
