// Package pipeline runs the fixed stage sequence of an upload over the hook
// registries.
package pipeline

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/imbed/internal/config"
	"git.home.luguber.info/inful/imbed/internal/events"
	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/hooks"
	"git.home.luguber.info/inful/imbed/internal/logfields"
	"git.home.luguber.info/inful/imbed/internal/metrics"
	"git.home.luguber.info/inful/imbed/internal/models"
)

// RunScope is the event channel scope that bounds a single run.
const RunScope = "lifecycle"

// Progress checkpoints emitted as upload-progress.
const (
	ProgressBeforeTransform = 0
	ProgressTransform       = 30
	ProgressBeforeUpload    = 60
	ProgressAfterUpload     = 100
)

// Options configures a Lifecycle.
type Options struct {
	Logger     *slog.Logger
	Config     *config.Config
	Events     *events.Channel
	Registries *Registries
	Recorder   metrics.Recorder
}

// Lifecycle executes pipeline runs. Runs share the event channel and are
// serialized.
type Lifecycle struct {
	logger     *slog.Logger
	cfg        *config.Config
	events     *events.Channel
	registries *Registries
	recorder   metrics.Recorder

	runMu sync.Mutex
}

// New builds a Lifecycle. Missing options get empty defaults.
func New(opts Options) *Lifecycle {
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
		opts.Registries = NewRegistries()
	}
	return &Lifecycle{
		logger:     opts.Logger,
		cfg:        opts.Config,
		events:     opts.Events,
		registries: opts.Registries,
		recorder:   metrics.OrNoop(opts.Recorder),
	}
}

// Events returns the channel runs emit on.
func (l *Lifecycle) Events() *events.Channel { return l.events }

// Registries returns the stage registries.
func (l *Lifecycle) Registries() *Registries { return l.registries }

// Config returns the configuration runs are created with.
func (l *Lifecycle) Config() *config.Config { return l.cfg }

// Run executes every stage over inputs. The first failure aborts the run,
// is emitted as upload-failed and returned. Finalizers queued on the run
// scope always run before Run returns.
func (l *Lifecycle) Run(ctx context.Context, inputs []string, opts models.RunOptions) (*models.Run, error) {
	if inputs == nil {
		err := ferrors.ValidationError("input must be a list of sources").Build()
		l.events.Emit(events.UploadFailed, err)
		return nil, err
	}

	l.runMu.Lock()
	defer l.runMu.Unlock()

	run := models.NewRun(uuid.NewString(), inputs, opts)
	run.Config = l.cfg
	run.Events = l.events
	run.Logger = l.logger.With(logfields.RunID(run.ID))

	start := time.Now()
	err := l.events.Scope(RunScope, func() error {
		return l.execute(ctx, run)
	})
	l.recorder.ObserveRunDuration(time.Since(start))

	if err != nil {
		run.Log().Error("Pipeline run failed", logfields.Stage(string(run.Stage())), logfields.Error(err))
		l.recorder.IncRunOutcome(metrics.RunOutcomeFailed)
		l.events.Emit(events.UploadFailed, err)
		return run, err
	}
	l.recorder.IncRunOutcome(metrics.RunOutcomeSuccess)
	return run, nil
}

// RenderOptions are the flags of a render run.
type RenderOptions struct {
	ForceRender bool
	ForceUpload bool
	BaseDir     string
	Uploader    string
}

// Render runs the pipeline with the render transformer placed ahead of the
// configured transformers.
func (l *Lifecycle) Render(ctx context.Context, inputs []string, opts RenderOptions) (*models.Run, error) {
	return l.Run(ctx, inputs, models.RunOptions{
		Render:      true,
		ForceRender: opts.ForceRender || l.cfg.Render.ForceRender,
		ForceUpload: opts.ForceUpload || l.cfg.Render.ForceUpload,
		BaseDir:     opts.BaseDir,
		Uploader:    opts.Uploader,
	})
}

type stageFunc func(ctx context.Context, run *models.Run) error

func (l *Lifecycle) execute(ctx context.Context, run *models.Run) error {
	stages := []struct {
		stage models.Stage
		fn    stageFunc
	}{
		{models.StageBeforeTransform, l.beforeTransform},
		{models.StageTransform, l.transform},
		{models.StageBeforeUpload, l.beforeUpload},
		{models.StageUpload, l.upload},
		{models.StageAfterUpload, l.afterUpload},
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryRuntime, "pipeline run canceled").
				WithContext("stage", string(st.stage)).
				Build()
		}
		run.SetStage(st.stage)

		t0 := time.Now()
		err := st.fn(ctx, run)
		l.recorder.ObserveStageDuration(string(st.stage), time.Since(t0))
		if err != nil {
			l.recorder.IncStageResult(string(st.stage), metrics.ResultFailed)
			return err
		}
		l.recorder.IncStageResult(string(st.stage), metrics.ResultSuccess)
	}
	run.SetStage(models.StageDone)
	return nil
}

func (l *Lifecycle) progress(run *models.Run, p int) {
	if run.AdvanceProgress(p) {
		l.events.Emit(events.UploadProgress, p)
	}
}

func (l *Lifecycle) beforeTransform(ctx context.Context, run *models.Run) error {
	l.progress(run, ProgressBeforeTransform)
	l.events.Emit(events.BeforeTransform, run)
	return l.handleHooks(ctx, run, l.registries.BeforeTransform, nil)
}

func (l *Lifecycle) transform(ctx context.Context, run *models.Run) error {
	l.progress(run, ProgressTransform)
	return l.handleHooks(ctx, run, l.registries.Transformer, l.transforms(run.Options))
}

func (l *Lifecycle) beforeUpload(ctx context.Context, run *models.Run) error {
	l.progress(run, ProgressBeforeUpload)
	l.events.Emit(events.BeforeUpload, run)
	return l.handleHooks(ctx, run, l.registries.BeforeUpload, nil)
}

func (l *Lifecycle) afterUpload(ctx context.Context, run *models.Run) error {
	l.progress(run, ProgressAfterUpload)
	l.events.Emit(events.AfterUpload, run)
	if err := l.handleHooks(ctx, run, l.registries.AfterUpload, nil); err != nil {
		return err
	}
	l.events.Emit(events.UploadFinished, run)
	return nil
}

// transforms returns the requested transformer names: the run's own list,
// else the configured list, with "render" prepended in render mode.
func (l *Lifecycle) transforms(opts models.RunOptions) []string {
	names := opts.Transforms
	if len(names) == 0 {
		names = l.cfg.Core.Transforms
	}
	if len(names) == 0 {
		names = []string{"path"}
	}
	names = slices.Clone(names)
	if opts.Render && !slices.Contains(names, "render") {
		names = append([]string{"render"}, names...)
	}
	return names
}

// UploaderName returns the uploader a run with opts uses.
func (l *Lifecycle) UploaderName(opts models.RunOptions) string {
	if opts.Uploader != "" {
		return opts.Uploader
	}
	if l.cfg.Core.Uploader != "" {
		return l.cfg.Core.Uploader
	}
	return config.DefaultUploader
}

func (l *Lifecycle) upload(ctx context.Context, run *models.Run) error {
	name := l.UploaderName(run.Options)
	entry, ok := l.registries.Uploader.GetOr(name, config.DefaultUploader)
	if !ok {
		run.Log().Error("Unknown uploader", logfields.Registry(hooks.Uploader), logfields.Uploader(name))
		return &MissingHookError{Registry: hooks.Uploader, Names: []string{name}}
	}
	log := run.Log().With(logfields.Registry(hooks.Uploader), logfields.Uploader(entry.Name))

	soft := false
	if s, isSoft := entry.Hook.(hooks.SoftUploader); isSoft {
		soft = s.SupportsSoftUpload()
	}
	if !run.Options.ForceUpload && !soft && len(run.PendingUploads()) > 0 {
		return ferrors.UploadError("uploader does not support soft upload").
			WithContext("uploader", entry.Name).
			Build()
	}

	if err := l.runHook(ctx, run, hooks.Uploader, entry, log); err != nil {
		return err
	}
	for _, rec := range run.Output {
		if rec != nil {
			rec.Uploader = entry.Name
		}
	}
	return nil
}

// handleHooks resolves names in reg and runs the hooks one after another.
// Every missing name is logged and the stage fails before any hook runs.
func (l *Lifecycle) handleHooks(ctx context.Context, run *models.Run, reg *hooks.Registry, names []string) error {
	res, err := reg.Resolve(names)
	if err != nil {
		return err
	}
	if len(res.Missing) > 0 {
		for _, name := range res.Missing {
			run.Log().Error("Unknown hook", logfields.Registry(reg.Name()), logfields.Hook(name))
		}
		return &MissingHookError{Registry: reg.Name(), Names: res.Missing}
	}

	for _, entry := range res.Resolved {
		if err := ctx.Err(); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryRuntime, "pipeline run canceled").
				WithContext("registry", reg.Name()).
				Build()
		}
		log := run.Log().With(logfields.Registry(reg.Name()), logfields.Hook(entry.Name))
		if err := l.runHook(ctx, run, reg.Name(), entry, log); err != nil {
			return err
		}
	}
	return nil
}

func (l *Lifecycle) runHook(ctx context.Context, run *models.Run, registry string, entry hooks.Entry, log *slog.Logger) error {
	handler, ok := entry.Handler()
	if !ok {
		log.Warn("Hook has no handler, skipped")
		l.recorder.IncHookResult(registry, entry.Name, metrics.ResultSkipped)
		return nil
	}

	log.Info("Hook running")
	t0 := time.Now()
	err := handler.Handle(ctx, run)
	dur := time.Since(t0)
	l.recorder.ObserveHookDuration(registry, entry.Name, dur)

	if err != nil {
		if eh, ok := entry.Hook.(hooks.ErrorHandler); ok {
			handled := eh.HandleError(run, err)
			if handled == nil {
				log.Warn("Hook error handled locally", logfields.Error(err))
				l.recorder.IncHookResult(registry, entry.Name, metrics.ResultSuccess)
				return nil
			}
			err = handled
		}
		log.Error("Hook failed", logfields.Error(err), logfields.DurationMS(float64(dur.Milliseconds())))
		l.recorder.IncHookResult(registry, entry.Name, metrics.ResultFailed)
		return &HookExecutionError{Registry: registry, Hook: entry.Name, Err: err}
	}

	log.Info("Hook done", logfields.DurationMS(float64(dur.Milliseconds())))
	l.recorder.IncHookResult(registry, entry.Name, metrics.ResultSuccess)
	return nil
}
