package commands

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ConfigCmd implements 'config get|set'.
type ConfigCmd struct {
	Get ConfigGetCmd `cmd:"" help:"Print a configuration value by dotted key"`
	Set ConfigSetCmd `cmd:"" help:"Set a configuration value by dotted key"`
}

type ConfigGetCmd struct {
	Key string `arg:"" help:"Dotted key, e.g. core.uploader"`
}

func (c *ConfigGetCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	v, err := cfg.Get(c.Key)
	if err != nil {
		return err
	}
	switch v.(type) {
	case map[string]any, []any:
		out, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = g.stdout().Write(out)
		return err
	default:
		_, err = fmt.Fprintln(g.stdout(), v)
		return err
	}
}

type ConfigSetCmd struct {
	Key   string `arg:"" help:"Dotted key, e.g. uploaders.local.dir"`
	Value string `arg:"" help:"Value, decoded as YAML"`
}

func (c *ConfigSetCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Set(c.Key, c.Value); err != nil {
		return err
	}
	if err := cfg.Save(); err != nil {
		return err
	}
	g.logger().Info("Configuration updated", "key", c.Key, "path", cfg.Path())
	return nil
}
