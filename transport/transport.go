// Package transport stores scene-scoped values and broadcasts changes to
// every connected client.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key has no value.
	ErrNotFound = errors.New("key not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport is closed")
	// ErrSwapMismatch is returned by CompareAndSwap when the stored value
	// differs from the expected one.
	ErrSwapMismatch = errors.New("stored value changed")
)

// Change describes a mutation of one scope. Origin is the id of the store
// that wrote it.
type Change struct {
	Scope  string   `json:"scope"`
	Keys   []string `json:"keys"`
	Origin string   `json:"origin"`
}

// Has reports whether key is among the changed keys.
func (c Change) Has(key string) bool {
	for _, k := range c.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// ChangeFunc receives change notifications, including the caller's own writes.
type ChangeFunc func(ctx context.Context, c Change)

// Transport is a scene-level key/value store with change notification.
type Transport interface {
	Get(ctx context.Context, scope, key string) ([]byte, error)
	Set(ctx context.Context, scope, key string, value []byte) error
	Unset(ctx context.Context, scope, key string) error
	// OnChange registers fn and returns a function that removes it.
	OnChange(fn ChangeFunc) (cancel func())
}

// Swapper is implemented by transports that can replace a value atomically.
// A nil old value means the key must not exist yet.
type Swapper interface {
	CompareAndSwap(ctx context.Context, scope, key string, old, value []byte) error
}

// Lister is implemented by transports that can enumerate scopes.
type Lister interface {
	Scopes(ctx context.Context) ([]string, error)
}
