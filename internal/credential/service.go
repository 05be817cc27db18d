package credential

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// keyPrefix makes leaked Driftmail keys recognizable in secret scanners.
const keyPrefix = "dm_"

const maxLifetimeDays = 365

// credentialStore is the storage interface consumed by Service.
// *Repository satisfies it.
type credentialStore interface {
	Insert(ctx context.Context, c *Credential) error
	Revoke(ctx context.Context, id uuid.UUID, now time.Time) error
	ListByOwner(ctx context.Context, owner string) ([]*Credential, error)
}

// Service mints and revokes API credentials.
type Service struct {
	store  credentialStore
	logger *zap.Logger
	now    func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(store credentialStore, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mint generates a fresh high-entropy API key for owner, stores its bcrypt
// digest with the requested expiry, and returns the plaintext exactly once.
func (s *Service) Mint(ctx context.Context, owner string, lifetimeDays int) (string, *Credential, error) {
	if lifetimeDays < 1 || lifetimeDays > maxLifetimeDays {
		return "", nil, fmt.Errorf("credential lifetime must be between 1 and %d days, got %d", maxLifetimeDays, lifetimeDays)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate key material: %w", err)
	}
	plain := keyPrefix + hex.EncodeToString(raw)

	digest, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("digest key: %w", err)
	}

	now := s.now().UTC()
	c := &Credential{
		ID:           uuid.New(),
		OwnerSubject: owner,
		SecretDigest: string(digest),
		CreatedAt:    now,
		ExpiresAt:    now.AddDate(0, 0, lifetimeDays),
	}
	if err := s.store.Insert(ctx, c); err != nil {
		return "", nil, fmt.Errorf("persist credential: %w", err)
	}

	s.logger.Info("api credential minted",
		zap.String("credential_id", c.ID.String()),
		zap.String("owner", owner),
		zap.Time("expires_at", c.ExpiresAt),
	)
	return plain, c, nil
}

// Revoke marks the credential revoked. Returns ErrNotFound for unknown ids.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Revoke(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("api credential revoked", zap.String("credential_id", id.String()))
	return nil
}

// ListByOwner returns the credentials minted for a subject.
func (s *Service) ListByOwner(ctx context.Context, owner string) ([]*Credential, error) {
	return s.store.ListByOwner(ctx, owner)
}
