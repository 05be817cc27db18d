package confirm

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

var (
	localPartRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9._-]{0,62}[a-z0-9])?$`)
	domainRe    = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)+$`)
)

const (
	defaultCredentialLifetimeDays = 90
	maxCredentialLifetimeDays     = 365
)

// NormalizeSubject trims and case-folds an email address and rejects anything
// that does not parse as a bare address. The normalized form is what every
// uniqueness check and ownership comparison operates on.
func NormalizeSubject(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("%w: subject email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", fmt.Errorf("%w: %q is not a valid email address", ErrInvalidInput, raw)
	}
	return s, nil
}

// normalizePayload validates the intent-specific payload fields and returns
// the canonical form. Invalid input never reaches a transaction.
func normalizePayload(intent Intent, p Payload) (Payload, error) {
	p.LocalPart = strings.ToLower(strings.TrimSpace(p.LocalPart))
	p.Domain = strings.ToLower(strings.TrimSpace(p.Domain))

	switch intent {
	case IntentCreateAlias:
		if p.LocalPart != "" {
			return p, fmt.Errorf("%w: %s does not accept a local part", ErrInvalidInput, intent)
		}
		if err := validDomain(p.Domain); err != nil {
			return p, err
		}
		p.LifetimeDays = 0

	case IntentCreateAliasAddress, IntentDeleteAlias:
		if err := validLocalPart(p.LocalPart); err != nil {
			return p, err
		}
		if err := validDomain(p.Domain); err != nil {
			return p, err
		}
		p.LifetimeDays = 0

	case IntentIssueCredential:
		if p.LocalPart != "" || p.Domain != "" {
			return p, fmt.Errorf("%w: %s does not accept alias fields", ErrInvalidInput, intent)
		}
		if p.LifetimeDays == 0 {
			p.LifetimeDays = defaultCredentialLifetimeDays
		}
		if p.LifetimeDays < 1 || p.LifetimeDays > maxCredentialLifetimeDays {
			return p, fmt.Errorf("%w: lifetime must be between 1 and %d days", ErrInvalidInput, maxCredentialLifetimeDays)
		}

	default:
		return p, fmt.Errorf("%w: unknown intent %q", ErrInvalidInput, string(intent))
	}
	return p, nil
}

func validLocalPart(s string) error {
	if !localPartRe.MatchString(s) {
		return fmt.Errorf("%w: invalid alias local part %q", ErrInvalidInput, s)
	}
	return nil
}

func validDomain(s string) error {
	if len(s) > 253 || !domainRe.MatchString(s) {
		return fmt.Errorf("%w: invalid domain %q", ErrInvalidInput, s)
	}
	return nil
}
