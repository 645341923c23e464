package persona

import (
	"fmt"
	"sync"
)

// Store exposes personality retrieval for handlers and the conversation core.
type Store interface {
	List() []Personality
	Names() []string
	Lookup(name string) (Personality, bool)
	Resolve(name string) Personality
	Default() Personality
	Register(p Personality) error
}

// Persister saves the full catalog whenever a personality is registered.
type Persister interface {
	Save(defaultName string, items []Personality) error
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithPersister attaches a durability backend consulted before a registration becomes visible.
func WithPersister(p Persister) RegistryOption {
	return func(r *Registry) {
		r.persister = p
	}
}

// Registry is an additive, in-memory personality catalog keyed by exact name.
type Registry struct {
	mu          sync.RWMutex
	order       []string
	byName      map[string]Personality
	defaultName string
	persister   Persister
}

// NewRegistry returns a Registry preloaded with items. defaultName must be one of them.
func NewRegistry(items []Personality, defaultName string, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		order:       make([]string, 0, len(items)),
		byName:      make(map[string]Personality, len(items)),
		defaultName: defaultName,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, item := range items {
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("seed personality %q: %w", item.Name, err)
		}
		if _, exists := r.byName[item.Name]; exists {
			return nil, &DuplicateNameError{Name: item.Name}
		}
		r.order = append(r.order, item.Name)
		r.byName[item.Name] = item
	}

	if _, ok := r.byName[defaultName]; !ok {
		return nil, fmt.Errorf("default personality %q is not in the catalog", defaultName)
	}
	return r, nil
}

// List returns the catalog in registration order.
func (r *Registry) List() []Personality {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]Personality, 0, len(r.order))
	for _, name := range r.order {
		items = append(items, r.byName[name])
	}
	return items
}

// Names returns personality names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Lookup finds a personality by exact name without falling back.
func (r *Registry) Lookup(name string) (Personality, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// Resolve finds a personality by exact name, returning the default when it is absent.
func (r *Registry) Resolve(name string) Personality {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.byName[name]; ok {
		return p
	}
	return r.byName[r.defaultName]
}

// Default returns the fallback personality.
func (r *Registry) Default() Personality {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[r.defaultName]
}

// Register appends a new personality. Existing entries are never replaced.
func (r *Registry) Register(p Personality) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[p.Name]; exists {
		return &DuplicateNameError{Name: p.Name}
	}

	if r.persister != nil {
		items := make([]Personality, 0, len(r.order)+1)
		for _, name := range r.order {
			items = append(items, r.byName[name])
		}
		items = append(items, p)
		if err := r.persister.Save(r.defaultName, items); err != nil {
			return fmt.Errorf("persist catalog: %w", err)
		}
	}

	r.order = append(r.order, p.Name)
	r.byName[p.Name] = p
	return nil
}

// Merge adds the valid entries of items whose names are not registered yet, keeping their
// relative order. Existing entries are never replaced. It returns the names added.
func (r *Registry) Merge(items []Personality) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var added []string
	for _, item := range items {
		if item.Validate() != nil {
			continue
		}
		if _, exists := r.byName[item.Name]; exists {
			continue
		}
		r.order = append(r.order, item.Name)
		r.byName[item.Name] = item
		added = append(added, item.Name)
	}
	return added
}
