// Package publish holds the afterUpload hooks that hand uploaded URLs on to
// documents, message subscribers and the terminal.
package publish

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"

	"git.home.luguber.info/inful/imbed/internal/logfields"
	"git.home.luguber.info/inful/imbed/internal/models"
)

// Hook names in the afterUpload registry.
const (
	PrintHookName    = "print"
	MarkdownHookName = "markdown"
	NATSHookName     = "nats"
)

// EncodeURL percent-encodes characters that are not allowed in a URL while
// leaving existing escapes alone.
func EncodeURL(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	return u.String()
}

// PrintHook writes the URL of every uploaded artifact, one per line.
type PrintHook struct {
	Out io.Writer
}

// Handle implements hooks.Handler.
func (h *PrintHook) Handle(_ context.Context, run *models.Run) error {
	out := h.Out
	if out == nil {
		out = os.Stdout
	}
	for _, rec := range run.Output {
		if rec == nil || rec.URL == "" {
			continue
		}
		u := EncodeURL(rec.URL)
		run.Log().Info("Artifact available", logfields.File(rec.FileName), logfields.URL(u))
		if _, err := fmt.Fprintln(out, u); err != nil {
			return err
		}
	}
	return nil
}
