package confirm

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a pending confirmation. Expiry is always
// re-checked against ExpiresAt; a row can be past its expiry while still
// carrying StatusPending until a sweep or the next issuance flips it.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusExpired   Status = "expired"
)

// Intent identifies which guarded mutation a confirmation triggers once its
// secret is redeemed.
type Intent string

const (
	// IntentCreateAlias creates a forwarding alias with a server-generated
	// local part on the requested domain.
	IntentCreateAlias Intent = "create_alias"
	// IntentCreateAliasAddress creates a forwarding alias at the exact
	// address requested by the caller.
	IntentCreateAliasAddress Intent = "create_alias_address"
	// IntentDeleteAlias removes a forwarding alias owned by the subject.
	IntentDeleteAlias Intent = "delete_alias"
	// IntentIssueCredential mints a long-lived API credential for the subject.
	IntentIssueCredential Intent = "issue_credential"
)

// ParseIntent validates a wire-level intent tag.
func ParseIntent(s string) (Intent, error) {
	switch i := Intent(s); i {
	case IntentCreateAlias, IntentCreateAliasAddress, IntentDeleteAlias, IntentIssueCredential:
		return i, nil
	default:
		return "", fmt.Errorf("%w: unknown intent %q", ErrInvalidInput, s)
	}
}

// Scope groups intents for the at-most-one-pending-row invariant. Both alias
// creation intents share a scope, so a subject holds at most one outstanding
// alias-creation challenge at a time.
type Scope string

const (
	ScopeAliasCreate Scope = "alias_create"
	ScopeAliasDelete Scope = "alias_delete"
	ScopeCredential  Scope = "credential"
)

// Scope returns the uniqueness scope of the intent.
func (i Intent) Scope() Scope {
	switch i {
	case IntentCreateAlias, IntentCreateAliasAddress:
		return ScopeAliasCreate
	case IntentDeleteAlias:
		return ScopeAliasDelete
	case IntentIssueCredential:
		return ScopeCredential
	default:
		// ParseIntent guards every entry point; an unknown intent here is a
		// programming error.
		panic(fmt.Sprintf("confirm: intent %q has no scope", string(i)))
	}
}

// Payload carries the intent-specific fields of a confirmation. Exactly the
// fields relevant to the intent are set; the rest stay zero.
type Payload struct {
	LocalPart    string `json:"local_part,omitempty"`
	Domain       string `json:"domain,omitempty"`
	LifetimeDays int    `json:"lifetime_days,omitempty"`
}

// Pending is one outstanding proof-of-control challenge. The raw secret is
// never stored; only its SHA-256 digest.
type Pending struct {
	ID           uuid.UUID
	Subject      string
	Scope        Scope
	Intent       Intent
	Payload      Payload
	SecretDigest string
	Status       Status
	SendCount    int
	CreatedAt    time.Time
	LastSentAt   time.Time
	ExpiresAt    time.Time
	ConfirmedAt  *time.Time
}

// Redeemable reports whether the row can still be confirmed at the given
// instant. Stored status alone is never trusted for expiry.
func (p *Pending) Redeemable(now time.Time) bool {
	return p.Status == StatusPending && now.Before(p.ExpiresAt)
}
