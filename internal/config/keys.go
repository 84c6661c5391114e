package config

import (
	"strings"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
)

// Get returns the value at a dotted key such as "core.uploader" or
// "uploaders.local.dir".
func (c *Config) Get(key string) (any, error) {
	tree, err := c.tree()
	if err != nil {
		return nil, err
	}

	var cur any = tree
	for _, part := range splitKey(key) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, keyNotFound(key)
		}
		cur, ok = m[part]
		if !ok {
			return nil, keyNotFound(key)
		}
	}
	return cur, nil
}

// Set assigns value, decoded as a YAML scalar or flow collection, to the
// dotted key. Intermediate maps are created as needed. The updated
// configuration is re-validated before it replaces c.
func (c *Config) Set(key, value string) error {
	parts := splitKey(key)
	if len(parts) == 0 {
		return ferrors.ValidationError("config key is empty").Build()
	}

	var decoded any
	if err := yaml.Unmarshal([]byte(value), &decoded); err != nil {
		decoded = value
	}

	tree, err := c.tree()
	if err != nil {
		return err
	}

	cur := tree
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = decoded

	data, err := yaml.Marshal(tree)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "failed to encode config").Build()
	}
	var updated Config
	if err := yaml.Unmarshal(data, &updated); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryValidation, "invalid value for config key").
			WithContext("key", key).
			Build()
	}
	updated.applyDefaults()
	if err := updated.Validate(); err != nil {
		return err
	}
	updated.path = c.path
	*c = updated
	return nil
}

func (c *Config) tree() (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to encode config").Build()
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to decode config").Build()
	}
	return tree, nil
}

func splitKey(key string) []string {
	var parts []string
	for _, p := range strings.Split(key, ".") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func keyNotFound(key string) error {
	return ferrors.NotFoundError("config key not found").WithContext("key", key).Build()
}
