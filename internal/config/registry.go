package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nvollmar/backchannel/pkg/provider/reaction"
)

// ErrBackendNotRegistered is returned by [Registry.CreateClassifier]
// when no factory has been registered under the requested name.
var ErrBackendNotRegistered = errors.New("config: classifier backend not registered")

// ClassifierFactory builds a classifier backend from its config block.
type ClassifierFactory func(ClassifierConfig) (reaction.Classifier, error)

// Registry maps classifier backend names to their constructors, so the
// wiring layer can instantiate whatever the config names without
// importing every backend package itself. It is safe for concurrent
// use.
type Registry struct {
	mu          sync.RWMutex
	classifiers map[string]ClassifierFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{classifiers: make(map[string]ClassifierFactory)}
}

// RegisterClassifier registers a classifier backend factory under name.
// Subsequent calls with the same name overwrite the previous
// registration.
func (r *Registry) RegisterClassifier(name string, factory ClassifierFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifiers[name] = factory
}

// CreateClassifier instantiates the backend registered under cfg.Name.
// Returns [ErrBackendNotRegistered] if no factory has been registered
// for that name.
func (r *Registry) CreateClassifier(cfg ClassifierConfig) (reaction.Classifier, error) {
	r.mu.RLock()
	factory, ok := r.classifiers[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// Names returns the registered backend names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.classifiers))
	for name := range r.classifiers {
		names = append(names, name)
	}
	return names
}
