package domains

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

type sourceStub struct {
	names []string
	err   error
	calls int
}

func (s *sourceStub) ListActiveNames(ctx context.Context) ([]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.names, nil
}

func TestAllowlistCachesWithinTTL(t *testing.T) {
	src := &sourceStub{names: []string{"mail.example.com", "alt.example.com"}}
	al := NewAllowlist(src, time.Hour)

	for i := 0; i < 3; i++ {
		names, err := al.Names(context.Background())
		if err != nil {
			t.Fatalf("Names: %v", err)
		}
		if !reflect.DeepEqual(names, src.names) {
			t.Fatalf("names = %v, want %v", names, src.names)
		}
	}
	if src.calls != 1 {
		t.Errorf("source fetched %d times, want 1", src.calls)
	}
}

func TestAllowlistInvalidateForcesRefetch(t *testing.T) {
	src := &sourceStub{names: []string{"mail.example.com"}}
	al := NewAllowlist(src, time.Hour)

	if _, err := al.Names(context.Background()); err != nil {
		t.Fatalf("Names: %v", err)
	}

	src.names = []string{"mail.example.com", "new.example.com"}
	al.Invalidate()

	names, err := al.Names(context.Background())
	if err != nil {
		t.Fatalf("Names after invalidate: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("names = %v, want the refreshed list", names)
	}
	if src.calls != 2 {
		t.Errorf("source fetched %d times, want 2", src.calls)
	}
}

func TestAllowlistServesStaleOnFetchError(t *testing.T) {
	src := &sourceStub{names: []string{"mail.example.com"}}
	al := NewAllowlist(src, 0) // every call is past the TTL

	if _, err := al.Names(context.Background()); err != nil {
		t.Fatalf("Names: %v", err)
	}

	src.err = errors.New("connection refused")
	names, err := al.Names(context.Background())
	if err != nil {
		t.Fatalf("Names with failing source: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"mail.example.com"}) {
		t.Errorf("names = %v, want the stale value", names)
	}
}

func TestAllowlistErrorWithNoCachedValue(t *testing.T) {
	src := &sourceStub{err: errors.New("connection refused")}
	al := NewAllowlist(src, time.Hour)

	if _, err := al.Names(context.Background()); err == nil {
		t.Fatal("expected error when nothing is cached")
	}
}

func TestAllowlistEmptyListIsCached(t *testing.T) {
	src := &sourceStub{names: nil}
	al := NewAllowlist(src, time.Hour)

	names, err := al.Names(context.Background())
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if names == nil || len(names) != 0 {
		t.Errorf("names = %v, want empty non-nil slice", names)
	}
	if _, err := al.Names(context.Background()); err != nil {
		t.Fatalf("second Names: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("source fetched %d times, want 1 (empty result cached)", src.calls)
	}
}
