// Package syncstore adapts managed real-time stores to a small hierarchical
// key/value contract: full-value writes per path and live snapshots of a
// parent path's children.
//
// Delivery guarantee for every backend: a watcher eventually observes the
// latest value written under each child; intermediate values may be coalesced.
package syncstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/Jakob98-code/distance-tracker/internal/models"
)

// Snapshot maps child keys of a watched path to their raw JSON values
type Snapshot map[string][]byte

// Subscription is a live registration that can be cancelled
type Subscription interface {
	Unsubscribe()
}

// Store is a shared real-time store
type Store interface {
	// Set fully overwrites the value at path
	Set(ctx context.Context, path string, value []byte) error
	// Watch calls fn with the current children of path and again after every change
	Watch(path string, fn func(Snapshot)) (Subscription, error)
	// WatchConnectivity calls fn with the current connection state and on every change
	WatchConnectivity(fn func(models.Connectivity)) Subscription
	// Close releases the store's connections
	Close() error
}

// SplitPath splits "a/b/c" into parent "a/b" and key "c"
func SplitPath(path string) (parent, key string, err error) {
	path = strings.Trim(path, "/")
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return "", "", fmt.Errorf("invalid store path %q", path)
	}
	return path[:i], path[i+1:], nil
}

// Join builds a store path from its segments
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func (s Snapshot) clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

type subscriptionFunc func()

func (f subscriptionFunc) Unsubscribe() { f() }
