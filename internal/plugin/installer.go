package plugin

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
)

// Op is an installer operation.
type Op string

const (
	OpInstall   Op = "install"
	OpUninstall Op = "uninstall"
	OpUpdate    Op = "update"
)

// Installer fetches, removes and upgrades plugin executables.
type Installer interface {
	Run(ctx context.Context, op Op, name string) error
}

// InstallerFunc adapts a function to Installer.
type InstallerFunc func(ctx context.Context, op Op, name string) error

// Run implements Installer.
func (f InstallerFunc) Run(ctx context.Context, op Op, name string) error { return f(ctx, op, name) }

// CommandInstaller runs "<Command...> <op> <name>" in Dir. The plugin
// directory, registry and proxy are passed through the environment as
// IMBED_PLUGIN_DIR, IMBED_PLUGIN_REGISTRY and HTTPS_PROXY.
type CommandInstaller struct {
	Command  []string
	Dir      string
	Registry string
	Proxy    string
	Env      []string
}

// Run implements Installer.
func (c *CommandInstaller) Run(ctx context.Context, op Op, name string) error {
	if len(c.Command) == 0 {
		return ferrors.ConfigError("no plugin installer command configured").
			WithContext("key", "plugins.command").
			UserAction().
			Build()
	}
	if c.Dir != "" {
		if err := os.MkdirAll(c.Dir, 0o750); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create plugin directory").
				WithContext("dir", c.Dir).
				Build()
		}
	}

	args := append(append([]string(nil), c.Command[1:]...), string(op), name)
	cmd := exec.CommandContext(ctx, c.Command[0], args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	if c.Dir != "" {
		cmd.Env = append(cmd.Env, "IMBED_PLUGIN_DIR="+c.Dir)
	}
	if c.Registry != "" {
		cmd.Env = append(cmd.Env, "IMBED_PLUGIN_REGISTRY="+c.Registry)
	}
	if c.Proxy != "" {
		cmd.Env = append(cmd.Env, "HTTPS_PROXY="+c.Proxy, "HTTP_PROXY="+c.Proxy)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return ferrors.PluginError("plugin "+string(op)+" failed").
			WithCause(err).
			WithContext("plugin", name).
			WithContext("stderr", strings.TrimSpace(stderr.String())).
			Build()
	}
	return nil
}
