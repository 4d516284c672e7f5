package execctx

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Registry holds the default context and any named contexts declared in
// configuration. Lookups return values, so callers can never mutate an entry.
type Registry struct {
	mu       sync.RWMutex
	contexts map[string]Context
}

// NewRegistry creates a registry whose default entry is def.
func NewRegistry(def Context) *Registry {
	return &Registry{
		contexts: map[string]Context{DefaultName: def.WithName(DefaultName)},
	}
}

// Register stores c under name, replacing any previous entry.
func (r *Registry) Register(name string, c Context) error {
	if name == "" {
		return fmt.Errorf("context name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts[name] = c.WithName(name)
	return nil
}

// Get returns the named context.
func (r *Registry) Get(name string) (Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contexts[name]
	if !ok {
		return Context{}, fmt.Errorf("context %q not found", name)
	}
	return c, nil
}

// Default returns the process-wide default context.
func (r *Registry) Default() Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contexts[DefaultName]
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.contexts))
}

// Seed establishes the named context (or the default when name is empty)
// as the current context of ctx.
func (r *Registry) Seed(ctx context.Context, name string) (context.Context, error) {
	if name == "" {
		name = DefaultName
	}
	c, err := r.Get(name)
	if err != nil {
		return ctx, err
	}
	return Into(ctx, c), nil
}
