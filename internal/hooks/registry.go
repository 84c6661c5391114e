package hooks

import (
	"slices"
	"sync"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
)

// Registry stores the hooks of one stage.
type Registry struct {
	name string

	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
	groups  map[string][]string
}

// NewRegistry creates an empty registry called name.
func NewRegistry(name string) *Registry {
	return &Registry{
		name:    name,
		entries: make(map[string]Entry),
		groups:  make(map[string][]string),
	}
}

// Name returns the registry name.
func (r *Registry) Name() string { return r.name }

// Register adds hook under name to group. Registering a taken name fails
// and leaves the existing entry untouched.
func (r *Registry) Register(group, name string, hook Hook, deps ...string) error {
	if name == "" {
		return ferrors.ValidationError("hook name cannot be empty").
			WithContext("registry", r.name).
			Build()
	}
	if !validHook(hook) {
		return &InvalidHandlerError{Registry: r.name, Name: name}
	}
	if group == "" {
		group = DefaultGroup
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[name]; ok {
		return &DuplicateNameError{Registry: r.name, Name: name, Group: existing.Group}
	}

	r.entries[name] = Entry{
		Name:         name,
		Hook:         hook,
		Dependencies: slices.Clone(deps),
		Group:        group,
	}
	r.order = append(r.order, name)
	r.groups[group] = append(r.groups[group], name)
	return nil
}

// Unregister removes every hook of group. Unknown groups are ignored.
// It returns the number of removed hooks.
func (r *Registry) Unregister(group string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	names, ok := r.groups[group]
	if !ok {
		return 0
	}
	for _, name := range names {
		delete(r.entries, name)
	}
	r.order = slices.DeleteFunc(r.order, func(n string) bool {
		_, still := r.entries[n]
		return !still
	})
	delete(r.groups, group)
	return len(names)
}

// Get returns the entry registered under name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// GetOr returns the entry for name, or the entry for fallback when name is
// not registered.
func (r *Registry) GetOr(name, fallback string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e, true
	}
	e, ok := r.entries[fallback]
	return e, ok
}

// GetOrHook returns the hook for name, or fallback when name is not
// registered.
func (r *Registry) GetOrHook(name string, fallback Hook) Hook {
	if e, ok := r.Get(name); ok {
		return e.Hook
	}
	return fallback
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Groups returns the group names with at least one hook.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.groups))
	for g := range r.groups {
		out = append(out, g)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of registered hooks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries returns every entry in registration order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}
