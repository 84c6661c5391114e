package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"git.home.luguber.info/inful/imbed/internal/config"
	"git.home.luguber.info/inful/imbed/internal/events"
	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/logfields"
	"git.home.luguber.info/inful/imbed/internal/pipeline"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Logger     *slog.Logger
	Config     *config.Config
	Events     *events.Channel
	Registries *pipeline.Registries
	// Catalog holds compiled plugins. Executable plugins found in the plugin
	// directory are added on demand.
	Catalog   *Catalog
	Installer Installer
}

// Result is the outcome of an installer operation for one plugin.
type Result struct {
	Name string
	Err  error
}

// Manager registers plugins into the pipeline registries and drives the
// installer.
type Manager struct {
	logger     *slog.Logger
	cfg        *config.Config
	events     *events.Channel
	registries *pipeline.Registries
	catalog    *Catalog
	installer  Installer

	mu     sync.Mutex
	loaded []string
}

// NewManager returns a Manager. A nil installer is built from the plugins
// section of the configuration.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Events == nil {
		opts.Events = events.NewChannel()
	}
	if opts.Registries == nil {
		opts.Registries = pipeline.NewRegistries()
	}
	if opts.Catalog == nil {
		opts.Catalog = &Catalog{plugins: make(map[string]Plugin)}
	}
	m := &Manager{
		logger:     opts.Logger.With(slog.String("component", "plugin")),
		cfg:        opts.Config,
		events:     opts.Events,
		registries: opts.Registries,
		catalog:    opts.Catalog,
		installer:  opts.Installer,
	}
	if m.installer == nil {
		m.installer = &CommandInstaller{
			Command:  opts.Config.Plugins.Command,
			Dir:      m.Dir(),
			Registry: opts.Config.Plugins.Registry,
			Proxy:    opts.Config.Core.Proxy,
		}
	}
	return m
}

// Dir returns the directory executable plugins are installed into.
func (m *Manager) Dir() string {
	if m.cfg.Plugins.Dir != "" {
		return m.cfg.Plugins.Dir
	}
	return filepath.Join(m.cfg.BaseDir(), "plugins")
}

// Load registers core under the core group, then every enabled plugin.
// Core failing to register is fatal; a failing plugin is rolled back and
// reported as a notification.
func (m *Manager) Load(ctx context.Context, core Plugin) error {
	if core != nil {
		r := m.registries.Registrar(CoreName)
		if err := core.Register(r); err != nil {
			r.Rollback()
			return ferrors.PluginError("failed to register core hooks").WithCause(err).Build()
		}
	}
	names, err := m.AvailablePlugins()
	if err != nil {
		return err
	}
	for _, name := range names {
		if !m.cfg.PluginEnabled(name) {
			continue
		}
		_ = m.RegisterPlugin(ctx, name)
	}
	return nil
}

// AvailablePlugins lists compiled and installed plugin names, sorted.
func (m *Manager) AvailablePlugins() ([]string, error) {
	names := m.catalog.Names()
	found, err := DiscoverExec(m.Dir())
	if err != nil {
		return nil, err
	}
	for name := range found {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// Loaded returns the names of the registered plugins in load order.
func (m *Manager) Loaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.loaded)
}

func (m *Manager) lookup(ctx context.Context, name string) (Plugin, error) {
	if p, ok := m.catalog.Get(name); ok {
		return p, nil
	}
	found, err := DiscoverExec(m.Dir())
	if err != nil {
		return nil, err
	}
	path, ok := found[name]
	if !ok {
		return nil, ferrors.NotFoundError("plugin not found").
			WithContext("plugin", name).
			WithContext("dir", m.Dir()).
			Build()
	}
	p, err := OpenExec(ctx, path)
	if err != nil {
		return nil, err
	}
	n := &named{Plugin: p, name: name}
	if err := m.catalog.Add(n); err != nil {
		return nil, err
	}
	return n, nil
}

// named pins the catalog key of an executable plugin to its file name.
type named struct {
	Plugin
	name string
}

func (n *named) Metadata() Metadata {
	md := n.Plugin.Metadata()
	md.Name = n.name
	return md
}

// RegisterPlugin registers the hooks of name under the group name. On
// failure everything the plugin registered is removed again and a
// notification is emitted.
func (m *Manager) RegisterPlugin(ctx context.Context, name string) error {
	log := m.logger.With(logfields.Plugin(name))
	err := m.register(ctx, name)
	if err != nil {
		log.Error("Plugin load failed", logfields.Error(err))
		m.events.Emit(events.NotificationEvent, events.Notification{
			Title: fmt.Sprintf("Plugin %s Load Error", name),
			Body:  err.Error(),
		})
		return err
	}
	log.Debug("Plugin loaded")
	return nil
}

func (m *Manager) register(ctx context.Context, name string) error {
	if name == CoreName {
		return ferrors.ValidationError("plugin name is reserved").WithContext("plugin", name).Build()
	}
	p, err := m.lookup(ctx, name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.Contains(m.loaded, name) {
		return nil
	}
	r := m.registries.Registrar(name)
	if err := p.Register(r); err != nil {
		r.Rollback()
		return ferrors.PluginError("plugin registration failed").
			WithCause(err).
			WithContext("plugin", name).
			Build()
	}
	if err := m.registries.Validate(); err != nil {
		r.Rollback()
		return ferrors.PluginError("plugin hooks are inconsistent").
			WithCause(err).
			WithContext("plugin", name).
			Build()
	}
	m.loaded = append(m.loaded, name)
	return nil
}

// UnregisterPlugin removes every hook of name and disables it.
func (m *Manager) UnregisterPlugin(name string) int {
	delete(m.cfg.Enabled, name)
	return m.forget(name)
}

// Install installs and enables every plugin in names.
func (m *Manager) Install(ctx context.Context, names []string) []Result {
	return m.each(ctx, OpInstall, names, func(name string) error {
		if m.cfg.Enabled == nil {
			m.cfg.Enabled = map[string]bool{}
		}
		m.cfg.Enabled[name] = true
		if err := m.RegisterPlugin(ctx, name); err != nil {
			delete(m.cfg.Enabled, name)
			return err
		}
		return nil
	})
}

// Uninstall unregisters and removes every plugin in names.
func (m *Manager) Uninstall(ctx context.Context, names []string) []Result {
	return m.each(ctx, OpUninstall, names, func(name string) error {
		m.UnregisterPlugin(name)
		m.catalog.Remove(name)
		return nil
	})
}

// Update upgrades every plugin in names and reloads the loaded ones.
func (m *Manager) Update(ctx context.Context, names []string) []Result {
	return m.each(ctx, OpUpdate, names, func(name string) error {
		wasLoaded := slices.Contains(m.Loaded(), name)
		m.forget(name)
		if _, ok := m.catalogExec(name); ok {
			m.catalog.Remove(name)
		}
		if !wasLoaded {
			return nil
		}
		return m.RegisterPlugin(ctx, name)
	})
}

func (m *Manager) forget(name string) int {
	m.mu.Lock()
	m.loaded = slices.DeleteFunc(m.loaded, func(n string) bool { return n == name })
	m.mu.Unlock()
	return m.registries.Unregister(name)
}

func (m *Manager) catalogExec(name string) (*named, bool) {
	p, ok := m.catalog.Get(name)
	if !ok {
		return nil, false
	}
	n, ok := p.(*named)
	return n, ok
}

var opEvents = map[Op][2]string{
	OpInstall:   {events.PluginInstalled, events.PluginInstallFailed},
	OpUninstall: {events.PluginUninstalled, events.PluginUninstallFailed},
	OpUpdate:    {events.PluginUpdated, events.PluginUpdateFailed},
}

// each runs op for every normalized name, then after on success. The
// configuration is saved once when it has a path.
func (m *Manager) each(ctx context.Context, op Op, names []string, after func(name string) error) []Result {
	results := make([]Result, 0, len(names))
	for _, raw := range names {
		name := NormalizeName(raw)
		log := m.logger.With(logfields.Plugin(name), slog.String("op", string(op)))

		err := m.installer.Run(ctx, op, name)
		if err == nil {
			err = after(name)
		}
		results = append(results, Result{Name: name, Err: err})

		if err != nil {
			log.Error("Plugin operation failed", logfields.Error(err))
			m.events.Emit(opEvents[op][1], events.Notification{
				Title: fmt.Sprintf("Plugin %s failed", op),
				Body:  fmt.Sprintf("%s: %v", name, err),
			})
			continue
		}
		log.Info("Plugin operation succeeded")
		m.events.Emit(opEvents[op][0], events.Notification{
			Title: fmt.Sprintf("Plugin %s succeeded", op),
			Body:  name,
		})
	}

	if m.cfg.Path() != "" {
		if err := m.cfg.Save(); err != nil {
			m.logger.Warn("Failed to save plugin state", logfields.Error(err))
		}
	}
	return results
}

// FirstError returns the first failed result as an error.
func FirstError(results []Result) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
