// Package remote defines the contract of the push-based key/value store the
// device and the operator share, plus helpers for its JSON-like node trees.
package remote

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is delivered to listeners when their store shuts down.
var ErrClosed = errors.New("remote store closed")

// Query narrows a listener. LimitToLast > 0 keeps only the last N children
// of the node in key order.
type Query struct {
	LimitToLast int
}

// Event is one delivery to a listener. An event with Err set is terminal: the
// listener is cancelled by the store and receives nothing afterwards.
// A missing node is a zero Snapshot value, never an error.
type Event struct {
	Snapshot Snapshot
	Err      error
}

type Listener func(Event)

// Registration releases a listener. Remove is idempotent.
type Registration interface {
	Remove()
}

// Store is the remote store client.
//
// Listen registers l on path and returns immediately; the current value is
// delivered asynchronously, followed by one event per change under path.
// Listeners are never invoked from inside Listen and never concurrently for
// the same registration.
//
// Set replaces the value at path (nil deletes). Update writes several children
// of path in one atomic step. Both return once the write was accepted.
type Store interface {
	Listen(path string, q Query, l Listener) (Registration, error)
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, fields map[string]any) error
}

type funcRegistration struct {
	once sync.Once
	fn   func()
}

func (r *funcRegistration) Remove() { r.once.Do(r.fn) }

// NewRegistration wraps fn so that it runs at most once.
func NewRegistration(fn func()) Registration {
	return &funcRegistration{fn: fn}
}
