package pipeline

import (
	"context"
	"fmt"
	"io"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/hooks"
	"git.home.luguber.info/inful/imbed/internal/models"
)

// Suggest lists artifacts the configured uploader already holds.
func (l *Lifecycle) Suggest(ctx context.Context, uploader string, opts hooks.SuggestOptions) (hooks.SuggestResult, error) {
	name := l.UploaderName(models.RunOptions{Uploader: uploader})
	entry, ok := l.registries.Uploader.Get(name)
	if !ok {
		return hooks.SuggestResult{}, &MissingHookError{Registry: hooks.Uploader, Names: []string{name}}
	}
	s, ok := entry.Hook.(hooks.Suggester)
	if !ok {
		return hooks.SuggestResult{}, ferrors.UploadError("uploader does not support suggestion").
			WithContext("uploader", name).
			Build()
	}

	run := models.NewRun("suggest", nil, models.RunOptions{Uploader: name})
	run.Config = l.cfg
	run.Events = l.events
	run.Logger = l.logger
	return s.Suggest(ctx, run, opts)
}

// WriteSuggestions prints one "name<TAB>url" line per result, followed by
// "..." when the listing was truncated.
func WriteSuggestions(w io.Writer, res hooks.SuggestResult) error {
	for _, item := range res.Results {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", item.Name, item.URL); err != nil {
			return err
		}
	}
	if res.Truncated {
		if _, err := fmt.Fprintln(w, "..."); err != nil {
			return err
		}
	}
	return nil
}
