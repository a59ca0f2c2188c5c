package kvstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("kvstore: backend unavailable")
)

// Store is a namespaced byte-value store. A ttl <= 0 on Set means the value
// does not expire. Delete of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Namespace prefixes all keys written through it with prefix + ":".
type Namespace struct {
	store  Store
	prefix string
}

// WithNamespace returns store scoped under prefix. An empty prefix returns a
// Namespace that passes keys through unchanged.
func WithNamespace(store Store, prefix string) *Namespace {
	return &Namespace{store: store, prefix: prefix}
}

func (n *Namespace) key(key string) string {
	if n.prefix == "" {
		return key
	}
	return n.prefix + ":" + key
}

func (n *Namespace) Get(ctx context.Context, key string) ([]byte, error) {
	return n.store.Get(ctx, n.key(key))
}

func (n *Namespace) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return n.store.Set(ctx, n.key(key), value, ttl)
}

func (n *Namespace) Delete(ctx context.Context, key string) error {
	return n.store.Delete(ctx, n.key(key))
}
