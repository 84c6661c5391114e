// Package source parses raw run inputs into artifact specifications.
package source

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/models"
)

const (
	// OptionDelimiter separates a source from its options:
	// "diagram.sh::width=300,fit=cover".
	OptionDelimiter = "::"
	// DestDelimiter separates a source from its destination name.
	DestDelimiter = "|"
)

// HookName is the beforeTransform name of the normalize hook.
const HookName = "normalize"

var special = map[string]bool{models.SpecialStdin: true}

// IsURL reports whether s is an http(s) URL.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// IsSpecial reports whether s names a special source that is never resolved
// as a path.
func IsSpecial(s string) bool { return special[s] }

// ParseOptions splits the options suffix off input. Each k=v pair is decoded
// as a YAML scalar, so "width=300" yields an int. Malformed pairs are
// skipped. Options is nil when input carries no suffix.
func ParseOptions(input string) (map[string]any, string) {
	parts := strings.Split(input, OptionDelimiter)
	if len(parts) != 2 {
		return nil, input
	}
	opts := map[string]any{}
	for _, pair := range strings.Split(parts[1], ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" || strings.Contains(v, "=") {
			continue
		}
		var val any
		if err := yaml.Unmarshal([]byte(v), &val); err != nil || val == nil {
			val = strings.TrimSpace(v)
		}
		opts[k] = val
	}
	return opts, parts[0]
}

// ParseSource parses "src|dest". Without a destination, Dest is the base
// name of the source and BlankDest is set. Relative paths resolve against
// baseDir, or the working directory when it is empty.
func ParseSource(input, baseDir string) (models.Source, error) {
	if !strings.Contains(input, DestDelimiter) {
		src, err := resolve(input, baseDir)
		if err != nil {
			return models.Source{}, err
		}
		return models.Source{Src: src, Dest: baseName(input), BlankDest: true}, nil
	}

	parts := strings.Split(input, DestDelimiter)
	if len(parts) != 2 || parts[0] == "" {
		return models.Source{}, ferrors.ValidationError("invalid source").
			WithContext("source", input).
			Build()
	}
	src, err := resolve(parts[0], baseDir)
	if err != nil {
		return models.Source{}, err
	}
	return models.Source{Src: src, Dest: parts[1]}, nil
}

func resolve(src, baseDir string) (string, error) {
	if IsSpecial(src) || IsURL(src) || filepath.IsAbs(src) {
		return src, nil
	}
	if src == "~" || strings.HasPrefix(src, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "cannot expand home directory").Build()
		}
		return filepath.Join(home, strings.TrimPrefix(src, "~")), nil
	}
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "cannot determine working directory").Build()
		}
		baseDir = wd
	}
	return filepath.Join(baseDir, src), nil
}

func baseName(src string) string {
	if IsURL(src) {
		if u, err := url.Parse(src); err == nil {
			return path.Base(u.Path)
		}
	}
	return filepath.Base(src)
}

// NormalizeHook parses every raw input of a run into its ArtifactSpec.
type NormalizeHook struct{}

// Handle implements hooks.Handler.
func (NormalizeHook) Handle(_ context.Context, run *models.Run) error {
	if len(run.Input) == 0 {
		return ferrors.ValidationError("no input given").Build()
	}
	for _, spec := range run.Input {
		opts, raw := ParseOptions(spec.Raw)
		src, err := ParseSource(raw, run.BaseDir())
		if err != nil {
			return err
		}
		spec.Options = opts
		spec.Source = src
	}
	return nil
}
