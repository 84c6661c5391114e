package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/hooks"
	"git.home.luguber.info/inful/imbed/internal/models"
)

// Executable plugins are programs named imbed-plugin-* in the plugin
// directory. "<exe> describe" prints a Manifest; "<exe> handle <registry>
// <hook>" reads an ExecRequest on stdin and prints an ExecResponse.

// Manifest is printed by "<exe> describe".
type Manifest struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description,omitempty"`
	Hooks       []ManifestHook `json:"hooks"`
}

// ManifestHook declares one hook of an executable plugin.
type ManifestHook struct {
	Registry string   `json:"registry"`
	Name     string   `json:"name"`
	Deps     []string `json:"deps,omitempty"`
}

// ExecRecord is the wire form of an artifact record.
type ExecRecord struct {
	Source      string         `json:"source,omitempty"`
	Dest        string         `json:"dest,omitempty"`
	Options     map[string]any `json:"options,omitempty"`
	Buffer      []byte         `json:"buffer,omitempty"`
	FileName    string         `json:"file_name,omitempty"`
	Extension   string         `json:"extension,omitempty"`
	Width       int            `json:"width,omitempty"`
	Height      int            `json:"height,omitempty"`
	NeedsUpload bool           `json:"needs_upload,omitempty"`
	URL         string         `json:"url,omitempty"`
}

// ExecRequest is sent to "<exe> handle".
type ExecRequest struct {
	RunID   string       `json:"run_id"`
	Render  bool         `json:"render,omitempty"`
	Records []ExecRecord `json:"records"`
}

// ExecResponse replaces the records of the run, index by index.
type ExecResponse struct {
	Records []ExecRecord `json:"records"`
}

// ExecPlugin adapts an executable to Plugin.
type ExecPlugin struct {
	Path     string
	manifest Manifest
}

// OpenExec runs "<path> describe" and returns the plugin it describes.
func OpenExec(ctx context.Context, path string) (*ExecPlugin, error) {
	out, err := runExec(ctx, path, nil, "describe")
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(out, &m); err != nil {
		return nil, ferrors.PluginError("invalid plugin manifest").WithCause(err).WithContext("path", path).Build()
	}
	if m.Name == "" {
		m.Name = filepath.Base(path)
	}
	if m.Version == "" {
		m.Version = "unknown"
	}
	return &ExecPlugin{Path: path, manifest: m}, nil
}

// Metadata implements Plugin.
func (p *ExecPlugin) Metadata() Metadata {
	return Metadata{Name: p.manifest.Name, Version: p.manifest.Version, Description: p.manifest.Description}
}

// Register implements Plugin.
func (p *ExecPlugin) Register(r *hooks.Registrar) error {
	for _, h := range p.manifest.Hooks {
		if err := r.Register(h.Registry, h.Name, &execHook{path: p.Path, registry: h.Registry, name: h.Name}, h.Deps...); err != nil {
			return err
		}
	}
	return nil
}

type execHook struct {
	path     string
	registry string
	name     string
}

func (h *execHook) Handle(ctx context.Context, run *models.Run) error {
	req := ExecRequest{RunID: run.ID, Render: run.Options.Render, Records: make([]ExecRecord, len(run.Output))}
	for i, rec := range run.Output {
		er := ExecRecord{
			Buffer: rec.Buffer, FileName: rec.FileName, Extension: rec.Extension,
			Width: rec.Width, Height: rec.Height, NeedsUpload: rec.NeedsUpload, URL: rec.URL,
		}
		if rec.Input != nil {
			er.Source, er.Dest, er.Options = rec.Input.Source.Src, rec.Input.Source.Dest, rec.Input.Options
		}
		req.Records[i] = er
	}
	in, err := json.Marshal(req)
	if err != nil {
		return ferrors.InternalError("failed to encode plugin request").WithCause(err).Build()
	}
	out, err := runExec(ctx, h.path, in, "handle", h.registry, h.name)
	if err != nil {
		return err
	}
	var resp ExecResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return ferrors.PluginError("invalid plugin response").WithCause(err).WithContext("hook", h.name).Build()
	}
	if len(resp.Records) != len(run.Output) {
		return ferrors.PluginError("plugin returned a different number of records").
			WithContext("hook", h.name).
			WithContext("want", len(run.Output)).
			WithContext("got", len(resp.Records)).
			Build()
	}
	for i, er := range resp.Records {
		rec := run.Output[i]
		rec.Buffer, rec.FileName, rec.Extension = er.Buffer, er.FileName, er.Extension
		rec.Width, rec.Height, rec.NeedsUpload, rec.URL = er.Width, er.Height, er.NeedsUpload, er.URL
	}
	return nil
}

func runExec(ctx context.Context, path string, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	if err := cmd.Run(); err != nil {
		return nil, ferrors.PluginError("plugin command failed").
			WithCause(err).
			WithContext("path", path).
			WithContext("args", strings.Join(args, " ")).
			WithContext("stderr", strings.TrimSpace(stderr.String())).
			Build()
	}
	return stdout.Bytes(), nil
}

// DiscoverExec lists executable plugins in dir, keyed by plugin name.
// Scoped plugins live in "@scope" subdirectories. A missing dir yields none.
func DiscoverExec(dir string) (map[string]string, error) {
	out := make(map[string]string)
	if err := discoverExec(dir, "", out); err != nil {
		return nil, err
	}
	return out, nil
}

func discoverExec(dir, scope string, out map[string]string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read plugin directory").
			WithContext("dir", dir).
			Build()
	}
	for _, e := range entries {
		name := e.Name()
		if scope != "" {
			name = scope + "/" + name
		}
		if e.IsDir() {
			if scope == "" && strings.HasPrefix(e.Name(), "@") {
				if err := discoverExec(filepath.Join(dir, e.Name()), e.Name(), out); err != nil {
					return err
				}
			}
			continue
		}
		if !IsPluginName(name) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Mode().Perm()&0o111 == 0 {
			continue
		}
		out[name] = filepath.Join(dir, e.Name())
	}
	return nil
}
