// Package apply dispatches confirmed mutations to the services guarding the
// underlying resources.
package apply

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/driftmail/driftmail/internal/alias"
	"github.com/driftmail/driftmail/internal/confirm"
	"github.com/driftmail/driftmail/internal/credential"
)

// AliasMutator is the alias surface the dispatcher drives.
// *alias.Service satisfies it.
type AliasMutator interface {
	CreateForwarding(ctx context.Context, localPart, domain, destination string) (*alias.Alias, bool, error)
	GenerateForwarding(ctx context.Context, domain, destination string) (*alias.Alias, error)
	Remove(ctx context.Context, address, expectedOwner string) error
}

// CredentialMinter is the credential surface the dispatcher drives.
// *credential.Service satisfies it.
type CredentialMinter interface {
	Mint(ctx context.Context, owner string, lifetimeDays int) (string, *credential.Credential, error)
}

// Dispatcher implements confirm.Mutator: it maps a confirmed record's intent
// onto the guarded resource mutation and folds the expected conflict
// branches into tagged outcomes.
type Dispatcher struct {
	aliases AliasMutator
	creds   CredentialMinter
	logger  *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(aliases AliasMutator, creds CredentialMinter, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{aliases: aliases, creds: creds, logger: logger}
}

// Apply executes the mutation named by the confirmed record. The switch is
// exhaustive over confirm.Intent; an unknown intent is an internal error.
func (d *Dispatcher) Apply(ctx context.Context, p *confirm.Pending) (*confirm.ApplyOutcome, error) {
	switch p.Intent {
	case confirm.IntentCreateAlias:
		a, err := d.aliases.GenerateForwarding(ctx, p.Payload.Domain, p.Subject)
		if err != nil {
			return nil, err
		}
		return &confirm.ApplyOutcome{Status: confirm.ApplyApplied, AliasAddress: a.Address}, nil

	case confirm.IntentCreateAliasAddress:
		a, created, err := d.aliases.CreateForwarding(ctx, p.Payload.LocalPart, p.Payload.Domain, p.Subject)
		if err != nil {
			return nil, err
		}
		status := confirm.ApplyApplied
		if !created {
			status = confirm.ApplyAlreadyExists
		}
		return &confirm.ApplyOutcome{Status: status, AliasAddress: a.Address}, nil

	case confirm.IntentDeleteAlias:
		address := p.Payload.LocalPart + "@" + p.Payload.Domain
		err := d.aliases.Remove(ctx, address, p.Subject)
		switch {
		case errors.Is(err, alias.ErrNotFound):
			return &confirm.ApplyOutcome{Status: confirm.ApplyNotFound, AliasAddress: address}, nil
		case errors.Is(err, alias.ErrOwnerMismatch):
			return &confirm.ApplyOutcome{Status: confirm.ApplyOwnerMismatch, AliasAddress: address}, nil
		case err != nil:
			return nil, err
		}
		return &confirm.ApplyOutcome{Status: confirm.ApplyApplied, AliasAddress: address}, nil

	case confirm.IntentIssueCredential:
		plain, c, err := d.creds.Mint(ctx, p.Subject, p.Payload.LifetimeDays)
		if err != nil {
			return nil, err
		}
		expires := c.ExpiresAt
		return &confirm.ApplyOutcome{
			Status:              confirm.ApplyApplied,
			CredentialPlain:     plain,
			CredentialExpiresAt: &expires,
		}, nil

	default:
		return nil, fmt.Errorf("no mutation registered for intent %q", p.Intent)
	}
}
