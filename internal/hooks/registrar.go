package hooks

import ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"

// Registrar binds a group to a set of registries so a plugin can register
// hooks across stages without naming its group at every call site.
type Registrar struct {
	group      string
	registries map[string]*Registry
}

// NewRegistrar returns a registrar that tags every registration with group.
func NewRegistrar(group string, registries ...*Registry) *Registrar {
	if group == "" {
		group = DefaultGroup
	}
	m := make(map[string]*Registry, len(registries))
	for _, r := range registries {
		m[r.Name()] = r
	}
	return &Registrar{group: group, registries: m}
}

// Group returns the group registrations are tagged with.
func (g *Registrar) Group() string { return g.group }

// Register adds hook to the named registry.
func (g *Registrar) Register(registry, name string, hook Hook, deps ...string) error {
	r, ok := g.registries[registry]
	if !ok {
		return ferrors.NotFoundError("unknown hook registry").
			WithContext("registry", registry).
			WithContext("hook", name).
			Build()
	}
	return r.Register(g.group, name, hook, deps...)
}

// Rollback removes everything this group registered in any registry.
func (g *Registrar) Rollback() int {
	n := 0
	for _, r := range g.registries {
		n += r.Unregister(g.group)
	}
	return n
}
