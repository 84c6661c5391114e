package hooks

import "slices"

// Resolution is the outcome of Resolve.
type Resolution struct {
	// Resolved lists present hooks with every dependency ahead of its
	// dependents. Transitive dependencies are included even when they were
	// not requested.
	Resolved []Entry
	// Missing lists requested names that are not registered.
	Missing []string
}

// Names returns the resolved hook names in execution order.
func (res Resolution) Names() []string {
	out := make([]string, len(res.Resolved))
	for i, e := range res.Resolved {
		out[i] = e.Name
	}
	return out
}

// Resolve orders the requested hooks by dependency. A nil names slice
// requests every hook in registration order. Requested order breaks ties
// between independent hooks. Dependencies that are not registered are
// ignored for ordering; a dependency cycle is reported as
// CircularDependencyError.
func (r *Registry) Resolve(names []string) (Resolution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if names == nil {
		names = r.order
	}

	var res Resolution
	done := make(map[string]bool)
	onPath := make(map[string]bool)
	var path []string
	missingSeen := make(map[string]bool)

	var visit func(name string) error
	visit = func(name string) error {
		if done[name] {
			return nil
		}
		if onPath[name] {
			start := slices.Index(path, name)
			cycle := append(slices.Clone(path[start:]), name)
			return &CircularDependencyError{Registry: r.name, Cycle: cycle}
		}

		entry := r.entries[name]
		onPath[name] = true
		path = append(path, name)
		for _, dep := range entry.Dependencies {
			if _, ok := r.entries[dep]; !ok {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		onPath[name] = false
		done[name] = true
		res.Resolved = append(res.Resolved, entry)
		return nil
	}

	for _, name := range names {
		if _, ok := r.entries[name]; !ok {
			if !missingSeen[name] {
				missingSeen[name] = true
				res.Missing = append(res.Missing, name)
			}
			continue
		}
		if err := visit(name); err != nil {
			return Resolution{}, err
		}
	}
	return res, nil
}

// Validate checks that every declared dependency is registered and that
// the dependency graph is acyclic.
func (r *Registry) Validate() error {
	for _, e := range r.Entries() {
		for _, dep := range e.Dependencies {
			if !r.Has(dep) {
				return &UnknownDependencyError{Registry: r.name, Name: e.Name, Dependency: dep}
			}
		}
	}
	_, err := r.Resolve(nil)
	return err
}
