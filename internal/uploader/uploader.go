// Package uploader implements the upload backends registered in the
// uploader registry. Each backend takes the buffer and file name of every
// artifact and stores the resulting URL on the record.
package uploader

import (
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"git.home.luguber.info/inful/imbed/internal/config"
	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/hooks"
	"git.home.luguber.info/inful/imbed/internal/models"
)

// Registered uploader names.
const (
	LocalName  = "local"
	GitName    = "git"
	SMMSName   = "smms"
	GitHubName = "github"
)

// DefaultSuggestLimit caps a suggestion page when no limit is given.
const DefaultSuggestLimit = 20

// SkipUnchanged reports whether a soft uploader may leave rec where it is:
// a render run produced the same content under the same name as before.
func SkipUnchanged(run *models.Run, rec *models.ArtifactRecord) bool {
	return run.Options.Render && !rec.NeedsUpload && !run.Options.ForceUpload
}

func uploadable(rec *models.ArtifactRecord) bool {
	return rec != nil && rec.FileName != "" && rec.Buffer != nil
}

// checkName rejects file names that would leave the upload root.
func checkName(name string) error {
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return ferrors.ValidationError("file name escapes the upload directory").
			WithContext("file", name).
			Build()
	}
	return nil
}

// JoinURL appends path elements to base, escaping them as needed.
func JoinURL(base string, elems ...string) string {
	var parts []string
	for _, e := range elems {
		if e = strings.Trim(e, "/"); e != "" {
			parts = append(parts, e)
		}
	}
	u, err := url.JoinPath(base, parts...)
	if err != nil {
		return strings.TrimSuffix(base, "/") + "/" + strings.Join(parts, "/")
	}
	return u
}

func configOf(run *models.Run) *config.Config {
	if run != nil && run.Config != nil {
		return run.Config
	}
	return config.Default()
}

// page applies prefix, marker and limit to sorted names.
func page(names []string, opts hooks.SuggestOptions, urlFor func(name string) string) hooks.SuggestResult {
	slices.Sort(names)
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSuggestLimit
	}
	var res hooks.SuggestResult
	for _, name := range names {
		if !strings.HasPrefix(name, opts.Prefix) || (opts.Marker != "" && name <= opts.Marker) {
			continue
		}
		if len(res.Results) == limit {
			res.Truncated = true
			break
		}
		res.Results = append(res.Results, hooks.SuggestItem{Name: name, URL: urlFor(name)})
	}
	return res
}

// writeFileAtomic writes data to a temp file next to path and renames it
// into place.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".imbed-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
