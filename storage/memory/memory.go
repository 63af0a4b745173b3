// Package memory provides an in-process storage.Storage backed by
// github.com/hashicorp/golang-lru/v2 with lazy and periodic expiry.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ggoodman/slackbridge/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultSweepInterval = time.Minute

// Storage implements storage.Storage in memory.
type Storage struct {
	cache *lru.Cache[string, *storage.Item]
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures the memory backend.
type Option func(*Storage)

// WithClock overrides the time source; used by tests to drive expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) { s.now = now }
}

// New creates a store holding at most maxItems entries. The least recently
// used entry is evicted once the bound is reached.
func New(maxItems int, opts ...Option) (*Storage, error) {
	cache, err := lru.New[string, *storage.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache: cache,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.sweep(defaultSweepInterval)

	return s, nil
}

// Get retrieves data for key.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	k := storage.Apply(opts...).QualifiedKey(key)

	item, ok := s.cache.Get(k)
	if !ok {
		return nil, nil
	}
	if item.IsExpired(s.now()) {
		s.cache.Remove(k)
		return nil, nil
	}

	return item, nil
}

// Set stores a private copy of data under key.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	o := storage.Apply(opts...)

	now := s.now()
	item := &storage.Item{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if o.TTL > 0 {
		expiresAt := now.Add(o.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.cache.Add(o.QualifiedKey(key), item)
	return nil
}

// Delete removes key.
func (s *Storage) Delete(ctx context.Context, key string, opts ...storage.Option) error {
	s.cache.Remove(storage.Apply(opts...).QualifiedKey(key))
	return nil
}

// Len reports the number of entries, expired ones included until swept.
func (s *Storage) Len() int {
	return s.cache.Len()
}

// Close stops the sweeper and drops all entries.
func (s *Storage) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.cache.Purge()
	return nil
}

func (s *Storage) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *Storage) removeExpired() {
	now := s.now()
	for _, key := range s.cache.Keys() {
		if item, ok := s.cache.Peek(key); ok && item.IsExpired(now) {
			s.cache.Remove(key)
		}
	}
}

var _ storage.Storage = (*Storage)(nil)
