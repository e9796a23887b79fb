package profile

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Load when no record exists for the
// identity.
var ErrNotFound = errors.New("profile: not found")

// Record is the persistent form of a Profile. Delivery counters
// (words-per-second, filler words) are session-scoped and never stored.
type Record struct {
	Identity               string
	Profession             string
	Memory                 map[string]string
	ComprehensionThreshold float64
	Interest               float64
	Confidence             float64
	Emotion                string
}

// Store persists Profile records across process restarts. The in-memory
// Registry remains authoritative during the process lifetime; the store
// is consulted once per identity at first contact and written back on
// shutdown.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Load retrieves the record for identity.
	// Returns [ErrNotFound] when the identity has never been saved.
	Load(ctx context.Context, identity string) (Record, error)

	// Save upserts the record keyed by its identity.
	Save(ctx context.Context, r Record) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close()
}
