package credential

import (
	"time"

	"github.com/google/uuid"
)

// Credential is a long-lived API key minted after a successful
// issue-credential redemption. Only the bcrypt digest of the key is stored;
// the plaintext is returned once at mint time and is never retrievable again.
type Credential struct {
	ID           uuid.UUID  `json:"id"`
	OwnerSubject string     `json:"owner_subject"`
	SecretDigest string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}
