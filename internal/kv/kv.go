// Package kv defines the key-value backend shared by the conversation store,
// user sessions and OTP records, along with its implementations.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key is absent or has expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is a string key-value store with per-key expiry.
type Store interface {
	// Get returns the value stored at key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Put stores value at key. A ttl <= 0 stores the value without expiry.
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns the live keys starting with prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Pinger is implemented by backends that hold a network connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sweeper is implemented by backends that expire keys lazily and need
// periodic cleanup of expired rows.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int, error)
}

// Ping checks the backend if it supports it.
func Ping(ctx context.Context, s Store) error {
	if p, ok := s.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
