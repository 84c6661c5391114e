// Package plugin loads hook plugins into the pipeline registries and manages
// their installation.
package plugin

import (
	"fmt"
	"strings"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/hooks"
)

// Prefix is the name prefix every plugin carries.
const Prefix = "imbed-plugin-"

// CoreName is the group the built-in hooks are registered under.
const CoreName = hooks.DefaultGroup

// Plugin contributes hooks to the pipeline.
type Plugin interface {
	Metadata() Metadata
	// Register adds the plugin's hooks through r, which tags them with the
	// plugin's group.
	Register(r *hooks.Registrar) error
}

// Metadata describes a plugin.
type Metadata struct {
	Name        string
	Version     string
	Description string
	Author      string
}

// String returns "name@version".
func (m Metadata) String() string {
	return fmt.Sprintf("%s@%s", m.Name, m.Version)
}

// Validate checks that the metadata identifies the plugin.
func (m Metadata) Validate() error {
	if m.Name == "" {
		return ferrors.ValidationError("plugin name is required").Build()
	}
	if m.Version == "" {
		return ferrors.ValidationError("plugin version is required").WithContext("plugin", m.Name).Build()
	}
	return nil
}

// NormalizeName adds the plugin prefix unless name already carries it,
// possibly behind a scope ("@org/imbed-plugin-x").
func NormalizeName(name string) string {
	if strings.Contains(name, Prefix) {
		return name
	}
	return Prefix + name
}

// IsPluginName reports whether name follows the plugin naming scheme.
func IsPluginName(name string) bool {
	if strings.HasPrefix(name, Prefix) {
		return len(name) > len(Prefix)
	}
	if scope, rest, ok := strings.Cut(name, "/"); ok && strings.HasPrefix(scope, "@") && len(scope) > 1 {
		return strings.HasPrefix(rest, Prefix) && len(rest) > len(Prefix)
	}
	return false
}
