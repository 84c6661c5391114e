// Package watch keeps rendered artifacts current: it re-runs the render
// pipeline when a source changes and sweeps the render cache on a schedule.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/logfields"
	"git.home.luguber.info/inful/imbed/internal/models"
	"git.home.luguber.info/inful/imbed/internal/pipeline"
	"git.home.luguber.info/inful/imbed/internal/source"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Renderer runs the render pipeline. *pipeline.Lifecycle implements it.
type Renderer interface {
	Render(ctx context.Context, inputs []string, opts pipeline.RenderOptions) (*models.Run, error)
}

// Options configures a Watcher.
type Options struct {
	Logger   *slog.Logger
	Renderer Renderer
	Render   pipeline.RenderOptions
	Debounce time.Duration
	// Initial renders every input once before watching.
	Initial bool
	// OnRender is called after every render with its outcome.
	OnRender func(inputs []string, run *models.Run, err error)
}

// Watcher re-renders inputs whose source file changed.
type Watcher struct {
	opts    Options
	logger  *slog.Logger
	inputs  []string
	targets map[string]string
	fsw     *fsnotify.Watcher
}

// New prepares a watcher over inputs. URL and stdin sources cannot be
// watched and are rejected.
func New(inputs []string, opts Options) (*Watcher, error) {
	if opts.Renderer == nil {
		return nil, ferrors.ValidationError("watcher needs a renderer").Build()
	}
	if len(inputs) == 0 {
		return nil, ferrors.ValidationError("nothing to watch").Build()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	targets := make(map[string]string, len(inputs))
	var dirs []string
	for _, raw := range inputs {
		_, body := source.ParseOptions(raw)
		src, err := source.ParseSource(body, opts.Render.BaseDir)
		if err != nil {
			return nil, err
		}
		if source.IsURL(src.Src) || source.IsSpecial(src.Src) {
			return nil, ferrors.ValidationError("source cannot be watched").
				WithContext("source", src.Src).
				Build()
		}
		path := filepath.Clean(src.Src)
		targets[path] = raw
		if dir := filepath.Dir(path); !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create file watcher").Build()
	}
	// Directories are watched so editors replacing files by rename keep
	// being seen.
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to watch directory").
				WithContext("dir", dir).
				Build()
		}
	}

	return &Watcher{
		opts:    opts,
		logger:  opts.Logger.With(slog.String("component", "watch")),
		inputs:  slices.Clone(inputs),
		targets: targets,
		fsw:     fsw,
	}, nil
}

// Run blocks until ctx is done, rendering changed inputs after each quiet
// period. Render failures are logged and do not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	if w.opts.Initial {
		w.render(ctx, w.inputs)
	}
	w.logger.Info("Watching sources", logfields.Count(len(w.targets)))

	pending := make(map[string]bool)
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			raw, watched := w.targets[filepath.Clean(ev.Name)]
			if !watched || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("Source changed", logfields.Path(ev.Name), slog.String("op", ev.Op.String()))
			pending[raw] = true
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
			} else {
				timer.Reset(w.opts.Debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("File watcher error", logfields.Error(err))

		case <-fire:
			fire = nil
			batch := make([]string, 0, len(pending))
			for _, raw := range w.inputs {
				if pending[raw] {
					batch = append(batch, raw)
				}
			}
			clear(pending)
			w.render(ctx, batch)
		}
	}
}

func (w *Watcher) render(ctx context.Context, inputs []string) {
	if len(inputs) == 0 {
		return
	}
	start := time.Now()
	run, err := w.opts.Renderer.Render(ctx, inputs, w.opts.Render)
	if err != nil {
		w.logger.Error("Render failed", logfields.Count(len(inputs)), logfields.Error(err))
	} else {
		w.logger.Info("Rendered",
			logfields.RunID(run.ID),
			logfields.Count(len(inputs)),
			logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	}
	if w.opts.OnRender != nil {
		w.opts.OnRender(inputs, run, err)
	}
}
