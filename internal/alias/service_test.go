package alias

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// memAliasStore keeps aliases keyed by address under a mutex, giving the
// same first-writer-wins behavior as the row-locked repository.
type memAliasStore struct {
	mu      sync.Mutex
	byAddr  map[string]*Alias
	crashed error
}

func newMemAliasStore() *memAliasStore {
	return &memAliasStore{byAddr: make(map[string]*Alias)}
}

func (m *memAliasStore) CreateIfAbsent(ctx context.Context, a *Alias) (bool, *Alias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.crashed != nil {
		return false, nil, m.crashed
	}
	if existing, ok := m.byAddr[a.Address]; ok {
		cp := *existing
		return false, &cp, nil
	}
	cp := *a
	m.byAddr[a.Address] = &cp
	return true, nil, nil
}

func (m *memAliasStore) DeleteIfOwned(ctx context.Context, address, expectedOwner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.byAddr[address]
	if !ok {
		return ErrNotFound
	}
	if existing.Destination != expectedOwner {
		return ErrOwnerMismatch
	}
	delete(m.byAddr, address)
	return nil
}

func (m *memAliasStore) ListByDestination(ctx context.Context, destination string) ([]*Alias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Alias
	for _, a := range m.byAddr {
		if a.Destination == destination {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func TestCreateForwarding(t *testing.T) {
	store := newMemAliasStore()
	svc := NewService(store, zap.NewNop())

	a, created, err := svc.CreateForwarding(context.Background(), "shopping", "mail.example.com", "user@example.org")
	if err != nil {
		t.Fatalf("CreateForwarding: %v", err)
	}
	if !created {
		t.Fatal("expected created=true for a fresh address")
	}
	if a.Address != "shopping@mail.example.com" || !a.Active {
		t.Errorf("unexpected alias: %+v", a)
	}

	// Second create of the same address reports the existing row.
	other, created, err := svc.CreateForwarding(context.Background(), "shopping", "mail.example.com", "other@example.org")
	if err != nil {
		t.Fatalf("CreateForwarding (taken): %v", err)
	}
	if created {
		t.Fatal("expected created=false for a taken address")
	}
	if other.Destination != "user@example.org" {
		t.Errorf("existing row destination = %q, want first owner", other.Destination)
	}
}

func TestCreateForwardingConcurrentFirstWriterWins(t *testing.T) {
	store := newMemAliasStore()
	svc := NewService(store, zap.NewNop())

	const workers = 20
	var wg sync.WaitGroup
	createdCh := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := svc.CreateForwarding(context.Background(), "contested", "mail.example.com", "user@example.org")
			if err != nil {
				t.Errorf("CreateForwarding: %v", err)
				return
			}
			createdCh <- created
		}()
	}
	wg.Wait()
	close(createdCh)

	wins := 0
	for created := range createdCh {
		if created {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("created count = %d, want exactly 1", wins)
	}
	if len(store.byAddr) != 1 {
		t.Errorf("rows = %d, want 1", len(store.byAddr))
	}
}

func TestGenerateForwarding(t *testing.T) {
	store := newMemAliasStore()
	svc := NewService(store, zap.NewNop())

	a, err := svc.GenerateForwarding(context.Background(), "mail.example.com", "user@example.org")
	if err != nil {
		t.Fatalf("GenerateForwarding: %v", err)
	}
	if a.Domain != "mail.example.com" || a.Destination != "user@example.org" {
		t.Errorf("unexpected alias: %+v", a)
	}
	if len(a.LocalPart) != generatedLocalLen {
		t.Errorf("local part length = %d, want %d", len(a.LocalPart), generatedLocalLen)
	}
	for _, r := range a.LocalPart {
		if !strings.ContainsRune(localAlphabet, r) {
			t.Errorf("local part character %q outside alphabet", r)
		}
	}

	// Two generated aliases for the same destination coexist.
	b, err := svc.GenerateForwarding(context.Background(), "mail.example.com", "user@example.org")
	if err != nil {
		t.Fatalf("second GenerateForwarding: %v", err)
	}
	if a.Address == b.Address {
		t.Error("two generated aliases collided")
	}

	list, err := svc.List(context.Background(), "user@example.org")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("listed %d aliases, want 2", len(list))
	}
}

func TestGenerateForwardingPropagatesStorageErrors(t *testing.T) {
	store := newMemAliasStore()
	store.crashed = errors.New("connection reset")
	svc := NewService(store, zap.NewNop())

	if _, err := svc.GenerateForwarding(context.Background(), "mail.example.com", "user@example.org"); err == nil {
		t.Fatal("expected storage error to surface")
	}
}

func TestRemove(t *testing.T) {
	store := newMemAliasStore()
	svc := NewService(store, zap.NewNop())

	if _, _, err := svc.CreateForwarding(context.Background(), "shopping", "mail.example.com", "user@example.org"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Wrong owner cannot remove.
	err := svc.Remove(context.Background(), "shopping@mail.example.com", "mallory@example.org")
	if !errors.Is(err, ErrOwnerMismatch) {
		t.Fatalf("err = %v, want ErrOwnerMismatch", err)
	}

	if err := svc.Remove(context.Background(), "shopping@mail.example.com", "user@example.org"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	// Second removal finds nothing.
	err = svc.Remove(context.Background(), "shopping@mail.example.com", "user@example.org")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
