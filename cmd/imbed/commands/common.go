// Package commands implements the imbed command line.
package commands

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/imbed/internal/cache"
	"git.home.luguber.info/inful/imbed/internal/config"
	"git.home.luguber.info/inful/imbed/internal/events"
	"git.home.luguber.info/inful/imbed/internal/httpclient"
	"git.home.luguber.info/inful/imbed/internal/metrics"
	"git.home.luguber.info/inful/imbed/internal/pipeline"
	"git.home.luguber.info/inful/imbed/internal/plugin"
	"git.home.luguber.info/inful/imbed/internal/render"
)

// Global carries process wide state into every command.
type Global struct {
	Logger *slog.Logger
	Stdin  io.Reader
	Stdout io.Writer
	// Plugins are the compiled plugins offered to the manager.
	Plugins []plugin.Plugin
}

// CLI is the root command.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path (default ~/.imbed/config.yaml)" env:"IMBED_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Upload    UploadCmd    `cmd:"" default:"withargs" help:"Upload images"`
	Render    RenderCmd    `cmd:"" help:"Render programs to images and upload them"`
	Suggest   SuggestCmd   `cmd:"" help:"List artifacts the uploader already holds"`
	Install   InstallCmd   `cmd:"" help:"Install plugins"`
	Uninstall UninstallCmd `cmd:"" help:"Uninstall plugins"`
	Update    UpdateCmd    `cmd:"" help:"Update plugins"`
	Use       UseCmd       `cmd:"" help:"Choose the uploader or transformers"`
	Cfg       ConfigCmd    `cmd:"" name:"config" help:"Read or change configuration values"`
	Hooks     HooksCmd     `cmd:"" help:"List registered hooks"`
	Cache     CacheCmd     `cmd:"" help:"Inspect and maintain the render cache"`
	Watch     WatchCmd     `cmd:"" help:"Re-render sources whenever they change"`

	// proxy overrides core.proxy for installer commands.
	proxy string `kong:"-"`
	// metricsAddr overrides metrics.addr for the watch daemon.
	metricsAddr string `kong:"-"`
}

// AfterApply runs after flag parsing; setup logging once.
func (c *CLI) AfterApply(g *Global) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(c.Verbose)}))
	slog.SetDefault(logger)
	if g != nil {
		g.Logger = logger
	}
	return nil
}

// parseLogLevel honours --verbose first, then IMBED_LOG_LEVEL.
func parseLogLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch strings.ToLower(os.Getenv("IMBED_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadConfig reads the configuration named by --config or the default
// location.
func (c *CLI) loadConfig() (*config.Config, error) {
	path := c.Config
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return config.Load(path)
}

// App is the wired pipeline used by the commands.
type App struct {
	Config    *config.Config
	Cache     *cache.Manager
	Lifecycle *pipeline.Lifecycle
	Plugins   *plugin.Manager
	Registry  *prom.Registry
	Logger    *slog.Logger
}

// newApp loads configuration and wires the cache, renderer, lifecycle and
// plugins. Prometheus collection is only set up when a metrics address is
// configured.
func newApp(ctx context.Context, g *Global, root *CLI) (*App, error) {
	logger := g.logger()
	cfg, err := root.loadConfig()
	if err != nil {
		return nil, err
	}
	if root.proxy != "" {
		cfg.Core.Proxy = root.proxy
	}
	if root.metricsAddr != "" {
		cfg.Metrics.Addr = root.metricsAddr
	}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var reg *prom.Registry
	if cfg.Metrics.Addr != "" {
		reg = prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(reg)
	}

	cm, err := cache.New(cfg.BaseDir(), cache.Options{Capacity: cfg.Cache.Capacity, Logger: logger, Recorder: recorder})
	if err != nil {
		return nil, err
	}
	client, err := httpclient.New(cfg.Core.Proxy, cfg.Core.FetchTimeout)
	if err != nil {
		return nil, err
	}

	ch := events.NewChannel()
	regs := pipeline.NewRegistries()
	lc := pipeline.New(pipeline.Options{Logger: logger, Config: cfg, Events: ch, Registries: regs, Recorder: recorder})

	catalog, err := plugin.NewCatalog(g.Plugins...)
	if err != nil {
		return nil, err
	}
	pm := plugin.NewManager(plugin.ManagerOptions{Logger: logger, Config: cfg, Events: ch, Registries: regs, Catalog: catalog})
	core := plugin.NewCore(plugin.CoreOptions{
		Renderer:     render.New(render.Options{Cache: cm, Logger: logger, Recorder: recorder, Timeout: cfg.Render.Timeout}),
		Transformers: regs.Transformer,
		Client:       client,
		FetchTimeout: cfg.Core.FetchTimeout,
		Recorder:     recorder,
		Stdin:        g.stdin(),
		Stdout:       g.stdout(),
	})
	if err := pm.Load(ctx, core); err != nil {
		return nil, err
	}
	ch.On(events.NotificationEvent, func(args ...any) {
		if len(args) == 0 {
			return
		}
		if n, ok := args[0].(events.Notification); ok {
			logger.Warn(n.Title, slog.String("detail", n.Body))
		}
	})

	return &App{Config: cfg, Cache: cm, Lifecycle: lc, Plugins: pm, Registry: reg, Logger: logger}, nil
}

func (g *Global) logger() *slog.Logger {
	if g == nil || g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

func (g *Global) stdin() io.Reader {
	if g == nil || g.Stdin == nil {
		return os.Stdin
	}
	return g.Stdin
}

func (g *Global) stdout() io.Writer {
	if g == nil || g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}

// workDir is the base directory relative sources resolve against.
func workDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
