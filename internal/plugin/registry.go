package plugin

import (
	"slices"
	"sync"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
)

// Catalog holds the plugins known to the process, keyed by name.
type Catalog struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewCatalog returns a catalog containing plugins.
func NewCatalog(plugins ...Plugin) (*Catalog, error) {
	c := &Catalog{plugins: make(map[string]Plugin)}
	for _, p := range plugins {
		if err := c.Add(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add registers p. Names must be unique.
func (c *Catalog) Add(p Plugin) error {
	if p == nil {
		return ferrors.ValidationError("cannot add nil plugin").Build()
	}
	md := p.Metadata()
	if err := md.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.plugins[md.Name]; exists {
		return ferrors.NewError(ferrors.CategoryAlreadyExists, "plugin already in catalog").
			WithContext("plugin", md.Name).
			Build()
	}
	c.plugins[md.Name] = p
	return nil
}

// Get returns the plugin named name.
func (c *Catalog) Get(name string) (Plugin, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plugins[name]
	return p, ok
}

// Remove drops name from the catalog.
func (c *Catalog) Remove(name string) {
	c.mu.Lock()
	delete(c.plugins, name)
	c.mu.Unlock()
}

// Names returns the sorted plugin names.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.plugins))
	for name := range c.plugins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of plugins.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plugins)
}
