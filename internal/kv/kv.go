// Package kv is a small key-value store abstraction with path-style keys.
// Keys are string segments joined by ':' (Key{"embed", "hash-384", "ab12"}
// is stored as "embed:hash-384:ab12").
//
// Badger backs the on-disk store; Memory is a map-backed store for tests
// and for runs without a data directory.
package kv

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New("kv: not found")

const separator = ":"

// Key is a hierarchical key. Segments must not contain ':'.
type Key []string

func (k Key) String() string { return strings.Join(k, separator) }

// prefixBytes returns the encoded prefix with a trailing separator so that
// "a:b" never matches "a:bc". An empty key matches everything.
func (k Key) prefixBytes() []byte {
	if len(k) == 0 {
		return nil
	}
	return []byte(k.String() + separator)
}

// Store is implemented by Badger and Memory.
type Store interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key Key) ([]byte, error)
	Set(ctx context.Context, key Key, value []byte) error
	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key Key) error
	// Count returns the number of keys under prefix.
	Count(ctx context.Context, prefix Key) (int, error)
	// DeletePrefix removes every key under prefix.
	DeletePrefix(ctx context.Context, prefix Key) error
	Close() error
}
