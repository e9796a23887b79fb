package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ActiveSession is the registry's view of a live session. Close must
// drain the session and block until its cleanup has run to completion;
// it must be idempotent.
type ActiveSession interface {
	Close(ctx context.Context) error
}

// Registry is the process-wide map from participant identity to Profile
// and to the currently active session. Profiles are created lazily on
// first contact and never evicted; active-session entries come and go
// with connections.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	profiles map[string]*Profile
	sessions map[string]ActiveSession

	store  Store
	logger *slog.Logger
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithStore attaches a persistence backend. Profiles are loaded from it
// at first contact and written back by [Registry.SaveAll].
func WithStore(s Store) RegistryOption {
	return func(r *Registry) { r.store = s }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		profiles: make(map[string]*Profile),
		sessions: make(map[string]ActiveSession),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Profile returns the Profile for identity, creating it with defaults
// on first contact. When a store is configured, the first contact tries
// to load a persisted record; a store failure degrades to a fresh
// default Profile rather than failing the caller.
func (r *Registry) Profile(ctx context.Context, identity string) *Profile {
	r.mu.Lock()
	if p, ok := r.profiles[identity]; ok {
		r.mu.Unlock()
		return p
	}
	r.mu.Unlock()

	p := r.loadOrCreate(ctx, identity)

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another session may have raced us here; keep the first one in.
	if existing, ok := r.profiles[identity]; ok {
		return existing
	}
	r.profiles[identity] = p
	return p
}

func (r *Registry) loadOrCreate(ctx context.Context, identity string) *Profile {
	if r.store == nil {
		return New(identity)
	}
	rec, err := r.store.Load(ctx, identity)
	switch {
	case err == nil:
		return fromRecord(rec)
	case errors.Is(err, ErrNotFound):
		return New(identity)
	default:
		r.logger.Warn("profile load failed, using defaults",
			"identity", identity, "error", err)
		return New(identity)
	}
}

// Attach registers s as the active session for identity and returns the
// identity's Profile. If another session is already active, it is
// closed first and Attach blocks until its cleanup completes, so at
// most one live session per identity ever exists.
func (r *Registry) Attach(ctx context.Context, identity string, s ActiveSession) (*Profile, error) {
	p := r.Profile(ctx, identity)

	for {
		r.mu.Lock()
		prior, busy := r.sessions[identity]
		if !busy {
			r.sessions[identity] = s
			r.mu.Unlock()
			return p, nil
		}
		r.mu.Unlock()

		r.logger.Info("replacing active session", "identity", identity)
		if err := prior.Close(ctx); err != nil {
			return nil, fmt.Errorf("profile: close prior session for %q: %w", identity, err)
		}
		// The prior session's Detach may not have run yet if Close was
		// concurrent; loop until the slot is actually free.
		r.mu.Lock()
		if r.sessions[identity] == prior {
			delete(r.sessions, identity)
		}
		r.mu.Unlock()
	}
}

// Detach removes s as the active session for identity. It is a no-op
// when s is not the current entry, so a replaced session cannot knock
// out its successor.
func (r *Registry) Detach(identity string, s ActiveSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[identity] == s {
		delete(r.sessions, identity)
	}
}

// ActiveCount returns the number of live sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SaveAll writes every known Profile to the configured store. It is a
// no-op without a store. All profiles are attempted; failures are
// joined.
func (r *Registry) SaveAll(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	r.mu.Lock()
	profiles := make([]*Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		profiles = append(profiles, p)
	}
	r.mu.Unlock()

	var errs []error
	for _, p := range profiles {
		if err := r.store.Save(ctx, p.record()); err != nil {
			errs = append(errs, fmt.Errorf("profile: save %q: %w", p.Identity(), err))
		}
	}
	return errors.Join(errs...)
}
