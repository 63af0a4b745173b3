package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/slackbridge/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T, size int, opts ...Option) *Storage {
	t.Helper()
	s, err := New(size, opts...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetAndGet(t *testing.T) {
	s := newStore(t, 10)
	ctx := context.Background()

	data := []byte("payload")
	if err := s.Set(ctx, "k", data); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	data[0] = 'X'

	item, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item == nil {
		t.Fatal("Get() returned nil item")
	}
	if string(item.Data) != "payload" {
		t.Fatalf("stored data was aliased: %q", item.Data)
	}
	if item.ExpiresAt != nil {
		t.Fatal("item without TTL should not expire")
	}
}

func TestGetMissing(t *testing.T) {
	s := newStore(t, 10)
	item, err := s.Get(context.Background(), "absent")
	if err != nil || item != nil {
		t.Fatalf("Get(absent) = %v, %v; want nil, nil", item, err)
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	s := newStore(t, 10)
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("a"), storage.WithNamespace("users"))
	_ = s.Set(ctx, "k", []byte("b"))

	a, _ := s.Get(ctx, "k", storage.WithNamespace("users"))
	b, _ := s.Get(ctx, "k")
	if a == nil || b == nil || string(a.Data) != "a" || string(b.Data) != "b" {
		t.Fatalf("namespace collision: %v %v", a, b)
	}
}

func TestTTLExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := newStore(t, 10, WithClock(clock.Now))
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), storage.WithTTL(time.Minute)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if item, _ := s.Get(ctx, "k"); item == nil {
		t.Fatal("item should be live before TTL")
	}

	clock.Advance(2 * time.Minute)
	if item, _ := s.Get(ctx, "k"); item != nil {
		t.Fatal("item should be gone after TTL")
	}
	if s.Len() != 0 {
		t.Fatalf("expired item should be evicted on read, len=%d", s.Len())
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := newStore(t, 10, WithClock(clock.Now))
	ctx := context.Background()

	_ = s.Set(ctx, "short", []byte("v"), storage.WithTTL(time.Second))
	_ = s.Set(ctx, "long", []byte("v"), storage.WithTTL(time.Hour))

	clock.Advance(time.Minute)
	s.removeExpired()

	if s.Len() != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", s.Len())
	}
}

func TestDeleteAndEviction(t *testing.T) {
	s := newStore(t, 2)
	ctx := context.Background()

	_ = s.Set(ctx, "a", []byte("1"))
	_ = s.Set(ctx, "b", []byte("2"))
	_ = s.Set(ctx, "c", []byte("3"))
	if item, _ := s.Get(ctx, "a"); item != nil {
		t.Fatal("least recently used entry should be evicted")
	}

	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete() of absent key failed: %v", err)
	}
	if item, _ := s.Get(ctx, "b"); item != nil {
		t.Fatal("deleted key still present")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := New(1)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
