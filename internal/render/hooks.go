package render

import (
	"context"
	"io"
	"os"
	"path/filepath"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/hooks"
	"git.home.luguber.info/inful/imbed/internal/logfields"
	"git.home.luguber.info/inful/imbed/internal/models"
)

// HookName is the name both render hooks register under.
const HookName = "render"

// StdinHook is the beforeTransform hook that reads a render program from
// standard input for a "stdin" source. It only acts when the render
// transformer is registered.
type StdinHook struct {
	Transformers *hooks.Registry
	Stdin        io.Reader
}

// Handle implements hooks.Handler.
func (h *StdinHook) Handle(_ context.Context, run *models.Run) error {
	if h.Transformers == nil || !h.Transformers.Has(HookName) {
		return nil
	}
	for _, spec := range run.Input {
		spec.Stdin = spec.Source.IsStdin()
		if !spec.Stdin {
			continue
		}
		if len(run.Input) != 1 {
			return ferrors.ValidationError("more than one job specified when using stdin").
				WithContext("count", len(run.Input)).
				Build()
		}
		in := h.Stdin
		if in == nil {
			in = os.Stdin
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read render source from stdin").Build()
		}
		spec.Content = data
	}
	return nil
}

// TransformHook is the render transformer. Artifacts are rendered one after
// another.
type TransformHook struct {
	Renderer *Renderer
}

// Handle implements hooks.Handler.
func (h *TransformHook) Handle(ctx context.Context, run *models.Run) error {
	for i, spec := range run.Input {
		res, err := h.Renderer.Render(ctx, Input{Stdin: spec.Stdin, Source: spec.Source, Content: spec.Content}, run.Options.ForceRender)
		if err != nil {
			return err
		}
		buf, err := os.ReadFile(res.OutputPath)
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read render output").
				WithContext("path", res.OutputPath).
				Build()
		}

		rec := run.Output[i]
		rec.Buffer = buf
		rec.FileName = res.Dest
		rec.Extension = filepath.Ext(res.OutputPath)
		rec.NeedsUpload = res.NeedsUpload
		run.Log().Debug("Rendered artifact",
			logfields.CacheKey(res.Key),
			logfields.File(res.Dest),
			"cache_hit", res.CacheHit,
			"needs_upload", res.NeedsUpload)
	}
	return nil
}
