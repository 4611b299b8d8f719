// Package provider implements the provider registry for upstream LLM adapters.
package provider

import (
	"fmt"
	"slices"
	"sync"

	warden "github.com/eugener/warden/internal"
)

// Registry maps provider names to warden.Provider instances.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]warden.Provider
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]warden.Provider)}
}

// Register adds a provider under the given name.
// It overwrites any previously registered provider with the same name.
func (r *Registry) Register(name string, p warden.Provider) {
	r.mu.Lock()
	r.providers[name] = p
	r.mu.Unlock()
}

// Get returns the provider registered under name, or an error if not found.
func (r *Registry) Get(name string) (warden.Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}
	return p, nil
}

// First returns an arbitrary but deterministic registered provider (the
// first in name order), or an error when the registry is empty. Used when a
// request does not pin a provider and exactly one upstream is configured.
func (r *Registry) First() (warden.Provider, error) {
	names := r.List()
	if len(names) == 0 {
		return nil, fmt.Errorf("no providers registered")
	}
	return r.Get(names[0])
}

// List returns a sorted slice of all registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := slices.Collect(func(yield func(string) bool) {
		for name := range r.providers {
			if !yield(name) {
				return
			}
		}
	})
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}
