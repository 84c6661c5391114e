package uploader

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/hooks"
	"git.home.luguber.info/inful/imbed/internal/logfields"
	"git.home.luguber.info/inful/imbed/internal/metrics"
	"git.home.luguber.info/inful/imbed/internal/models"
)

// Local copies artifacts into a directory, typically one served by a web
// server or synced elsewhere.
type Local struct {
	Recorder metrics.Recorder
}

// SupportsSoftUpload implements hooks.SoftUploader.
func (*Local) SupportsSoftUpload() bool { return true }

func localSettings(run *models.Run) (string, string, error) {
	cfg := configOf(run)
	dir := cfg.Uploaders.Local.Dir
	if dir == "" {
		dir = filepath.Join(cfg.BaseDir(), "uploads")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", "", ferrors.WrapError(err, ferrors.CategoryConfig, "invalid local upload directory").
			WithContext("dir", dir).
			Build()
	}
	base := cfg.Uploaders.Local.BaseURL
	if base == "" {
		base = (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	}
	return abs, base, nil
}

// Handle implements hooks.Handler.
func (l *Local) Handle(_ context.Context, run *models.Run) error {
	dir, base, err := localSettings(run)
	if err != nil {
		return err
	}
	rec := metrics.OrNoop(l.Recorder)
	for _, out := range run.Output {
		if !uploadable(out) {
			continue
		}
		if err := checkName(out.FileName); err != nil {
			return err
		}
		u := JoinURL(base, filepath.ToSlash(out.FileName))
		if SkipUnchanged(run, out) {
			out.URL = u
			run.Log().Info("Artifact unchanged, upload skipped", logfields.File(out.FileName), logfields.URL(u))
			continue
		}
		dst := filepath.Join(dir, filepath.FromSlash(out.FileName))
		if err := writeFileAtomic(dst, out.Buffer); err != nil {
			rec.IncUploadResult(LocalName, false)
			return ferrors.WrapError(err, ferrors.CategoryUpload, "failed to copy artifact").
				WithContext("path", dst).
				Build()
		}
		rec.IncUploadResult(LocalName, true)
		out.URL = u
		run.Log().Info("Artifact uploaded", logfields.Uploader(LocalName), logfields.Path(dst), logfields.URL(u))
	}
	return nil
}

// Config implements hooks.Configurer.
func (*Local) Config(run *models.Run) []hooks.FormField {
	cfg := configOf(run).Uploaders.Local
	return []hooks.FormField{
		{Name: "dir", Type: "input", Message: "target directory", Default: cfg.Dir},
		{Name: "base_url", Type: "input", Message: "public base URL", Default: cfg.BaseURL},
	}
}

// Suggest implements hooks.Suggester by listing the upload directory.
func (*Local) Suggest(_ context.Context, run *models.Run, opts hooks.SuggestOptions) (hooks.SuggestResult, error) {
	dir, base, err := localSettings(run)
	if err != nil {
		return hooks.SuggestResult{}, err
	}
	var names []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return hooks.SuggestResult{}, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to list uploads").
			WithContext("dir", dir).
			Build()
	}
	return page(names, opts, func(name string) string { return JoinURL(base, name) }), nil
}
