// Package tree is the path-addressed JSON tree used as the remote realtime
// store. Semantics are last-write-wins; there are no transactions across
// paths. Watches deliver push-style change events for a path prefix.
package tree

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnavailable indicates the remote store cannot be reached.
var ErrUnavailable = errors.New("remote store unavailable")

// Event describes a change under a watched path.
type Event struct {
	Path    string
	Value   json.RawMessage
	Removed bool
}

// WatchFunc receives change events. Callbacks run on the store's
// notification goroutine and must not block.
type WatchFunc func(Event)

// Subscription is a handle for an active watch. Close detaches the watch;
// it is safe to call more than once.
type Subscription interface {
	Close() error
}

// Store is the remote tree contract: path-addressed reads and writes plus
// push-style watches.
type Store interface {
	// Get unmarshals the value at path into out. The bool is false when no
	// value exists at path.
	Get(ctx context.Context, path string, out any) (bool, error)
	// Set writes the value at path, replacing any previous value.
	Set(ctx context.Context, path string, v any) error
	// Update merges fields into the JSON object at path, creating it if absent.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Remove deletes the value at path. Removing an absent path is not an error.
	Remove(ctx context.Context, path string) error
	// List returns all values stored at or under prefix, keyed by full path.
	List(ctx context.Context, prefix string) (map[string]json.RawMessage, error)
	// Watch observes changes at or under path until the subscription closes.
	Watch(ctx context.Context, path string, fn WatchFunc) (Subscription, error)
	// Healthy reports whether the backing transport is reachable.
	Healthy(ctx context.Context) bool
}
