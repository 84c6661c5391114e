package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/imbed/internal/hooks"
	"git.home.luguber.info/inful/imbed/internal/models"
	"git.home.luguber.info/inful/imbed/internal/pipeline"
	"git.home.luguber.info/inful/imbed/internal/uploader"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// UploadCmd implements 'upload'.
type UploadCmd struct {
	Inputs      []string `arg:"" name:"input" help:"Sources as path|dest::k=v,... (URLs, base64 data)"`
	Uploader    string   `short:"u" help:"Uploader to use instead of core.uploader"`
	Transforms  []string `short:"t" help:"Transformers to run instead of core.transforms"`
	ForceUpload bool     `name:"force-upload" help:"Upload even when the uploader reports nothing changed"`
}

func (u *UploadCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	app, err := newApp(ctx, g, root)
	if err != nil {
		return err
	}
	_, err = app.Lifecycle.Run(ctx, u.Inputs, models.RunOptions{
		Transforms:  u.Transforms,
		Uploader:    u.Uploader,
		ForceUpload: u.ForceUpload,
		BaseDir:     workDir(),
	})
	return err
}

// RenderCmd implements 'render'.
type RenderCmd struct {
	Inputs      []string `arg:"" name:"program" help:"Render programs as path|dest, or 'stdin'"`
	Uploader    string   `short:"u" help:"Uploader to use instead of core.uploader"`
	ForceRender bool     `short:"f" name:"force-render" help:"Run programs even when a cached output exists"`
	ForceUpload bool     `name:"force-upload" help:"Upload even when the destination did not change"`
}

func (r *RenderCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	app, err := newApp(ctx, g, root)
	if err != nil {
		return err
	}
	_, err = app.Lifecycle.Render(ctx, r.Inputs, pipeline.RenderOptions{
		ForceRender: r.ForceRender,
		ForceUpload: r.ForceUpload,
		BaseDir:     workDir(),
		Uploader:    r.Uploader,
	})
	return err
}

// SuggestCmd implements 'suggest'.
type SuggestCmd struct {
	Prefix   string `arg:"" optional:"" help:"Only list names starting with prefix"`
	Marker   string `help:"List names after marker"`
	Limit    int    `short:"n" help:"Maximum number of results" default:"20"`
	Uploader string `short:"u" help:"Uploader to query instead of core.uploader"`
}

func (s *SuggestCmd) Run(g *Global, root *CLI) error {
	if s.Limit <= 0 {
		s.Limit = uploader.DefaultSuggestLimit
	}
	ctx, cancel := signalContext()
	defer cancel()

	app, err := newApp(ctx, g, root)
	if err != nil {
		return err
	}
	res, err := app.Lifecycle.Suggest(ctx, s.Uploader, hooks.SuggestOptions{Prefix: s.Prefix, Marker: s.Marker, Limit: s.Limit})
	if err != nil {
		return err
	}
	return pipeline.WriteSuggestions(g.stdout(), res)
}
