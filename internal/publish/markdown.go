package publish

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/logfields"
	"git.home.luguber.info/inful/imbed/internal/markdown"
	"git.home.luguber.info/inful/imbed/internal/models"
	"git.home.luguber.info/inful/imbed/internal/source"
)

// MarkdownHook rewrites image references in the configured Markdown files
// that point at a source of the run so they point at the uploaded URL.
type MarkdownHook struct {
	// Files overrides publish.markdown.files.
	Files []string
}

// Handle implements hooks.Handler.
func (h *MarkdownHook) Handle(_ context.Context, run *models.Run) error {
	files := h.Files
	if len(files) == 0 && run.Config != nil {
		files = run.Config.Publish.Markdown.Files
	}
	for _, f := range files {
		if !filepath.IsAbs(f) && run.BaseDir() != "" {
			f = filepath.Join(run.BaseDir(), f)
		}
		n, err := rewriteFile(f, run)
		if err != nil {
			return err
		}
		if n > 0 {
			run.Log().Info("Rewrote image references", logfields.Path(f), logfields.Count(n))
		}
	}
	return nil
}

func rewriteFile(path string, run *models.Run) (int, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return 0, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read markdown file").
			WithContext("path", path).
			Build()
	}
	dir := filepath.Dir(path)

	var edits []markdown.Edit
	for _, img := range markdown.Images(body) {
		if u := uploadedURL(run, dir, img.Destination); u != "" && u != img.Destination {
			edits = append(edits, markdown.Edit{Start: img.Start, End: img.End, Replacement: []byte(EncodeURL(u))})
		}
	}
	if len(edits) == 0 {
		return 0, nil
	}
	out, err := markdown.ApplyEdits(body, edits)
	if err != nil {
		return 0, ferrors.InternalError("failed to rewrite markdown").WithCause(err).WithContext("path", path).Build()
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to stat markdown file").Build()
	}
	tmp := path + ".imbed-tmp"
	if err := os.WriteFile(tmp, out, info.Mode().Perm()); err != nil {
		return 0, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to write markdown file").WithContext("path", path).Build()
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to replace markdown file").WithContext("path", path).Build()
	}
	return len(edits), nil
}

// uploadedURL returns the URL of the artifact whose source dest refers to,
// either literally or as a path relative to the document.
func uploadedURL(run *models.Run, dir, dest string) string {
	if source.IsURL(dest) {
		return ""
	}
	resolved := dest
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(dir, filepath.FromSlash(dest))
	}
	for _, rec := range run.Output {
		if rec == nil || rec.URL == "" || rec.Input == nil {
			continue
		}
		_, raw := source.ParseOptions(rec.Input.Raw)
		raw, _, _ = strings.Cut(raw, source.DestDelimiter)
		if dest == raw || filepath.Clean(resolved) == filepath.Clean(rec.Input.Source.Src) {
			return rec.URL
		}
	}
	return ""
}
