package commands

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/imbed/internal/config"
	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/plugin"
)

// InstallCmd implements 'install'.
type InstallCmd struct {
	Plugins []string `arg:"" name:"plugin" help:"Plugin names, with or without the imbed-plugin- prefix"`
	Proxy   string   `help:"Proxy for the installer (defaults to core.proxy)"`
}

func (c *InstallCmd) Run(g *Global, root *CLI) error {
	return runPluginOp(g, root, plugin.OpInstall, c.Plugins, c.Proxy)
}

// UninstallCmd implements 'uninstall'.
type UninstallCmd struct {
	Plugins []string `arg:"" name:"plugin" help:"Plugin names"`
}

func (c *UninstallCmd) Run(g *Global, root *CLI) error {
	return runPluginOp(g, root, plugin.OpUninstall, c.Plugins, "")
}

// UpdateCmd implements 'update'.
type UpdateCmd struct {
	Plugins []string `arg:"" name:"plugin" help:"Plugin names"`
	Proxy   string   `help:"Proxy for the installer (defaults to core.proxy)"`
}

func (c *UpdateCmd) Run(g *Global, root *CLI) error {
	return runPluginOp(g, root, plugin.OpUpdate, c.Plugins, c.Proxy)
}

func runPluginOp(g *Global, root *CLI, op plugin.Op, names []string, proxy string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if proxy != "" {
		root.proxy = proxy
	}
	app, err := newApp(ctx, g, root)
	if err != nil {
		return err
	}

	var results []plugin.Result
	switch op {
	case plugin.OpInstall:
		results = app.Plugins.Install(ctx, names)
	case plugin.OpUninstall:
		results = app.Plugins.Uninstall(ctx, names)
	case plugin.OpUpdate:
		results = app.Plugins.Update(ctx, names)
	}
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = "failed: " + r.Err.Error()
		}
		_, _ = fmt.Fprintf(g.stdout(), "%s %s %s\n", op, r.Name, status)
	}
	return plugin.FirstError(results)
}

// UseCmd implements 'use'.
type UseCmd struct {
	Uploader    UseUploaderCmd    `cmd:"" help:"Set the default uploader"`
	Transformer UseTransformerCmd `cmd:"" help:"Set the default transformer list"`
}

type UseUploaderCmd struct {
	Name string `arg:"" help:"Uploader name"`
}

func (c *UseUploaderCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()
	app, err := newApp(ctx, g, root)
	if err != nil {
		return err
	}
	if !app.Lifecycle.Registries().Uploader.Has(c.Name) {
		return unknownChoice("uploader", c.Name, app.Lifecycle.Registries().Uploader.Names())
	}
	app.Config.Core.Uploader = c.Name
	return saveConfig(g, app.Config, "core.uploader", c.Name)
}

type UseTransformerCmd struct {
	Names []string `arg:"" name:"name" help:"Transformer names, in the order they should run"`
}

func (c *UseTransformerCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()
	app, err := newApp(ctx, g, root)
	if err != nil {
		return err
	}
	reg := app.Lifecycle.Registries().Transformer
	for _, name := range c.Names {
		if !reg.Has(name) {
			return unknownChoice("transformer", name, reg.Names())
		}
	}
	app.Config.Core.Transforms = c.Names
	return saveConfig(g, app.Config, "core.transforms", strings.Join(c.Names, ","))
}

func unknownChoice(kind, name string, available []string) error {
	return ferrors.NotFoundError("unknown "+kind).
		WithContext("name", name).
		WithContext("available", strings.Join(available, ", ")).
		UserAction().
		Build()
}

func saveConfig(g *Global, cfg *config.Config, key, value string) error {
	if err := cfg.Save(); err != nil {
		return err
	}
	g.logger().Info("Configuration updated", "key", key, "value", value, "path", cfg.Path())
	return nil
}
