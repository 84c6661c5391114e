package plugin

import (
	"io"
	"net/http"
	"time"

	"git.home.luguber.info/inful/imbed/internal/hooks"
	"git.home.luguber.info/inful/imbed/internal/imagesize"
	"git.home.luguber.info/inful/imbed/internal/metrics"
	"git.home.luguber.info/inful/imbed/internal/publish"
	"git.home.luguber.info/inful/imbed/internal/render"
	"git.home.luguber.info/inful/imbed/internal/source"
	"git.home.luguber.info/inful/imbed/internal/transform"
	"git.home.luguber.info/inful/imbed/internal/uploader"
	"git.home.luguber.info/inful/imbed/internal/version"
)

// CoreOptions supplies the collaborators of the built-in hooks.
type CoreOptions struct {
	// Renderer enables the render hooks. Without it render runs fail with a
	// missing transformer.
	Renderer *render.Renderer
	// Transformers is consulted by the stdin hook to decide whether render
	// mode is available.
	Transformers *hooks.Registry
	Client       *http.Client
	FetchTimeout time.Duration
	Recorder     metrics.Recorder
	Stdin        io.Reader
	Stdout       io.Writer
}

// Core is the plugin holding the built-in hooks.
type Core struct {
	opts CoreOptions
}

// NewCore returns the built-in plugin.
func NewCore(opts CoreOptions) *Core {
	return &Core{opts: opts}
}

// Metadata implements Plugin.
func (c *Core) Metadata() Metadata {
	return Metadata{Name: CoreName, Version: version.Version, Description: "built-in hooks"}
}

type registration struct {
	registry string
	name     string
	hook     hooks.Hook
	deps     []string
}

// Register implements Plugin.
func (c *Core) Register(r *hooks.Registrar) error {
	o := c.opts
	loader := &transform.Loader{Client: o.Client, Timeout: o.FetchTimeout}

	regs := []registration{
		{hooks.BeforeTransform, source.HookName, source.NormalizeHook{}, nil},
		{hooks.Transformer, transform.PathHookName, &transform.PathHook{Loader: loader}, nil},
		{hooks.Transformer, transform.Base64HookName, &transform.Base64Hook{}, nil},
		{hooks.Transformer, transform.MinifyHookName, &transform.MinifyHook{}, nil},
		{hooks.BeforeUpload, imagesize.HookName, imagesize.Hook{}, nil},
		{hooks.Uploader, uploader.LocalName, &uploader.Local{Recorder: o.Recorder}, nil},
		{hooks.Uploader, uploader.GitName, &uploader.Git{Recorder: o.Recorder}, nil},
		{hooks.Uploader, uploader.SMMSName, &uploader.SMMS{Client: o.Client, Recorder: o.Recorder}, nil},
		{hooks.Uploader, uploader.GitHubName, &uploader.GitHub{Client: o.Client, Recorder: o.Recorder}, nil},
		{hooks.AfterUpload, publish.MarkdownHookName, &publish.MarkdownHook{}, nil},
		{hooks.AfterUpload, publish.NATSHookName, &publish.NATSHook{}, nil},
		{hooks.AfterUpload, publish.PrintHookName, &publish.PrintHook{Out: o.Stdout}, []string{publish.MarkdownHookName}},
	}
	if o.Renderer != nil {
		regs = append(regs,
			registration{hooks.BeforeTransform, render.HookName, &render.StdinHook{Transformers: o.Transformers, Stdin: o.Stdin}, []string{source.HookName}},
			registration{hooks.Transformer, render.HookName, &render.TransformHook{Renderer: o.Renderer}, nil},
		)
	}

	for _, reg := range regs {
		if err := r.Register(reg.registry, reg.name, reg.hook, reg.deps...); err != nil {
			return err
		}
	}
	return nil
}
