package backend

import (
	"fmt"
	"sync"
)

// Registry manages engine instances by provider name.
type Registry struct {
	engines map[string]Engine
	mu      sync.RWMutex
}

// NewRegistry creates a new backend registry.
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]Engine),
	}
}

// Register adds an engine to the registry.
func (r *Registry) Register(e Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.engines[e.Provider()]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, e.Provider())
	}

	r.engines[e.Provider()] = e
	return nil
}

// Get retrieves an engine by provider name.
func (r *Registry) Get(provider string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.engines[provider]
	return e, ok
}

// Providers returns the names of all registered engines.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}

	return names
}
