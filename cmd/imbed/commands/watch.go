package commands

import (
	"time"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/imbed/internal/metrics"
	"git.home.luguber.info/inful/imbed/internal/pipeline"
	"git.home.luguber.info/inful/imbed/internal/watch"
)

// WatchCmd implements 'watch'.
type WatchCmd struct {
	Inputs      []string      `arg:"" name:"program" help:"Render programs to watch"`
	Uploader    string        `short:"u" help:"Uploader to use instead of core.uploader"`
	ForceUpload bool          `name:"force-upload" help:"Upload every render even when the destination did not change"`
	MetricsAddr string        `name:"metrics-addr" help:"Serve Prometheus metrics on this address (overrides metrics.addr)"`
	Debounce    time.Duration `help:"Quiet period before re-rendering" default:"500ms"`
}

func (w *WatchCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	if w.MetricsAddr != "" {
		root.metricsAddr = w.MetricsAddr
	}
	app, err := newApp(ctx, g, root)
	if err != nil {
		return err
	}

	watcher, err := watch.New(w.Inputs, watch.Options{
		Logger:   app.Logger,
		Renderer: app.Lifecycle,
		Render:   pipeline.RenderOptions{ForceUpload: w.ForceUpload, BaseDir: workDir(), Uploader: w.Uploader},
		Debounce: w.Debounce,
		Initial:  true,
	})
	if err != nil {
		return err
	}

	sched, err := watch.NewScheduler(app.Logger)
	if err != nil {
		return err
	}
	if _, err := sched.ScheduleSweep(app.Config.Cache.SweepInterval, app.Cache); err != nil {
		return err
	}
	sched.Start()
	defer func() { _ = sched.Stop(ctx) }()

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return watcher.Run(gctx) })
	if app.Config.Metrics.Addr != "" {
		grp.Go(func() error {
			return watch.ServeMetrics(gctx, app.Config.Metrics.Addr, metrics.HTTPHandler(app.Registry), app.Logger)
		})
	}
	return grp.Wait()
}
