package transform

import (
	"context"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/imbed/internal/logfields"
	"git.home.luguber.info/inful/imbed/internal/models"
)

// PathHookName is the transformer name of PathHook.
const PathHookName = "path"

// PathHook loads every source of a run concurrently. Records that already
// hold a buffer, e.g. filled by the render transformer, are left alone.
type PathHook struct {
	Loader *Loader
}

// Handle implements hooks.Handler.
func (h *PathHook) Handle(ctx context.Context, run *models.Run) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range run.Input {
		rec := run.Output[i]
		if spec.Source.Src == "" || spec.Source.IsStdin() || rec.Buffer != nil {
			continue
		}
		g.Go(func() error {
			info, err := h.Loader.Load(gctx, spec.Source.Src)
			if err != nil {
				return err
			}
			rec.Buffer = info.Buffer
			rec.Extension = info.Ext
			rec.FileName = spec.Source.Dest
			if rec.FileName == "" {
				rec.FileName = info.FileName
			}
			run.Log().Debug("Loaded source", logfields.Path(spec.Source.Src), logfields.File(rec.FileName))
			return nil
		})
	}
	return g.Wait()
}
