package provider

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrDuplicateProvider indicates two providers share a name.
var ErrDuplicateProvider = errors.New("provider already registered")

// Registry maps backend names to providers. It is fixed at construction
// and safe for concurrent reads.
type Registry struct {
	byName map[string]Provider
}

// NewRegistry builds a registry from the given providers.
func NewRegistry(providers ...Provider) (*Registry, error) {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("provider must not be nil")
		}
		if _, exists := byName[p.Name()]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, p.Name())
		}
		byName[p.Name()] = p
	}
	return &Registry{byName: byName}, nil
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, &UnsupportedProviderError{Provider: name}
	}
	return p, nil
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.byName))
}

// Close closes every registered provider.
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.Names() {
		if err := r.byName[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close provider %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
