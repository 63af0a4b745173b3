// Package storage defines the small TTL key/value contract used for the
// bridge's lookaside caches. Backends live in the memory and redis
// subpackages.
package storage

import (
	"context"
	"time"
)

// Storage is a namespaced key/value store with optional expiry.
type Storage interface {
	// Get returns nil, nil when the key is absent or expired. An error is
	// returned only for backend failures.
	Get(ctx context.Context, key string, opts ...Option) (*Item, error)

	// Set stores data under key, replacing any previous value.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes a single key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string, opts ...Option) error

	// Close releases the backend.
	Close() error
}

// Item is a stored value with its bookkeeping.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil = no expiration
}

// IsExpired reports whether the item has expired relative to now.
func (i *Item) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}

// Option configures storage operations
type Option func(*Options)

// Options collects the per-call settings. The zero value addresses the
// global namespace with no TTL.
type Options struct {
	Namespace string
	TTL       time.Duration
}

// Apply folds opts into a fresh Options value.
func Apply(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithNamespace scopes the call to ns.
func WithNamespace(ns string) Option {
	return func(o *Options) {
		o.Namespace = ns
	}
}

// WithTTL sets a time-to-live for the stored data. Non-positive values mean
// no expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.TTL = ttl
	}
}

// QualifiedKey joins namespace and key the same way for every backend.
func (o Options) QualifiedKey(key string) string {
	if o.Namespace == "" {
		return "global:" + key
	}
	return o.Namespace + ":" + key
}
