package alias

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"go.uber.org/zap"
)

// generatedLocalLen is the length of server-generated local parts.
const generatedLocalLen = 12

// localAlphabet excludes look-alike characters since generated addresses get
// read back over the phone.
const localAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

// aliasStore is the storage interface consumed by Service.
// *Repository satisfies it.
type aliasStore interface {
	CreateIfAbsent(ctx context.Context, a *Alias) (created bool, existing *Alias, err error)
	DeleteIfOwned(ctx context.Context, address, expectedOwner string) error
	ListByDestination(ctx context.Context, destination string) ([]*Alias, error)
}

// Service implements alias business logic over the race-safe repository.
type Service struct {
	store  aliasStore
	logger *zap.Logger
}

// NewService creates a Service.
func NewService(store aliasStore, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// CreateForwarding creates the alias localPart@domain forwarding to
// destination. Returns the row and whether it was newly created; when the
// address is taken the existing row comes back with created=false.
func (s *Service) CreateForwarding(ctx context.Context, localPart, domain, destination string) (*Alias, bool, error) {
	a := &Alias{
		Address:     localPart + "@" + domain,
		LocalPart:   localPart,
		Domain:      domain,
		Destination: destination,
		Active:      true,
	}
	created, existing, err := s.store.CreateIfAbsent(ctx, a)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return existing, false, nil
	}
	s.logger.Info("alias created",
		zap.String("address", a.Address),
		zap.String("destination", destination),
	)
	return a, true, nil
}

// GenerateForwarding creates an alias with a random local part on domain.
// Collisions with existing addresses are resolved by drawing again.
func (s *Service) GenerateForwarding(ctx context.Context, domain, destination string) (*Alias, error) {
	const maxDraws = 5
	for i := 0; i < maxDraws; i++ {
		local, err := randomLocalPart(generatedLocalLen)
		if err != nil {
			return nil, fmt.Errorf("generate local part: %w", err)
		}
		a, created, err := s.CreateForwarding(ctx, local, domain, destination)
		if err != nil {
			return nil, err
		}
		if created {
			return a, nil
		}
	}
	return nil, fmt.Errorf("could not find a free generated address on %s after %d draws", domain, maxDraws)
}

// Remove deletes the alias at address when owned by expectedOwner. Returns
// ErrNotFound or ErrOwnerMismatch for the expected conflict branches.
func (s *Service) Remove(ctx context.Context, address, expectedOwner string) error {
	if err := s.store.DeleteIfOwned(ctx, address, expectedOwner); err != nil {
		return err
	}
	s.logger.Info("alias removed",
		zap.String("address", address),
		zap.String("destination", expectedOwner),
	)
	return nil
}

// List returns the aliases forwarding to destination.
func (s *Service) List(ctx context.Context, destination string) ([]*Alias, error) {
	return s.store.ListByDestination(ctx, destination)
}

func randomLocalPart(n int) (string, error) {
	max := big.NewInt(int64(len(localAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = localAlphabet[idx.Int64()]
	}
	return string(buf), nil
}
