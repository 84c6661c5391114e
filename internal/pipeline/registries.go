package pipeline

import "git.home.luguber.info/inful/imbed/internal/hooks"

// Registries holds one hook registry per lifecycle stage.
type Registries struct {
	BeforeTransform *hooks.Registry
	Transformer     *hooks.Registry
	BeforeUpload    *hooks.Registry
	Uploader        *hooks.Registry
	AfterUpload     *hooks.Registry
}

// NewRegistries returns empty registries.
func NewRegistries() *Registries {
	return &Registries{
		BeforeTransform: hooks.NewRegistry(hooks.BeforeTransform),
		Transformer:     hooks.NewRegistry(hooks.Transformer),
		BeforeUpload:    hooks.NewRegistry(hooks.BeforeUpload),
		Uploader:        hooks.NewRegistry(hooks.Uploader),
		AfterUpload:     hooks.NewRegistry(hooks.AfterUpload),
	}
}

// All returns the registries in stage order.
func (r *Registries) All() []*hooks.Registry {
	return []*hooks.Registry{r.BeforeTransform, r.Transformer, r.BeforeUpload, r.Uploader, r.AfterUpload}
}

// Registrar returns a registrar tagging registrations with group.
func (r *Registries) Registrar(group string) *hooks.Registrar {
	return hooks.NewRegistrar(group, r.All()...)
}

// Unregister removes group from every registry and returns the number of
// removed hooks.
func (r *Registries) Unregister(group string) int {
	n := 0
	for _, reg := range r.All() {
		n += reg.Unregister(group)
	}
	return n
}

// Validate checks every registry for unknown dependencies and cycles.
func (r *Registries) Validate() error {
	for _, reg := range r.All() {
		if err := reg.Validate(); err != nil {
			return err
		}
	}
	return nil
}
