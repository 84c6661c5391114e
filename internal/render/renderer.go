// Package render runs external generation programs and memoizes their
// output in the content-addressed cache.
package render

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"git.home.luguber.info/inful/imbed/internal/cache"
	"git.home.luguber.info/inful/imbed/internal/filetype"
	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/logfields"
	"git.home.luguber.info/inful/imbed/internal/metrics"
	"git.home.luguber.info/inful/imbed/internal/models"
)

const (
	// OutputDirEnv names the directory a render program may write into.
	OutputDirEnv = "IMBED_OUTPUT_DIR"

	outputMarker = "output_filename"
	destMarker   = "dest_filename"
	outputStem   = "output"
)

// Hash returns the cache key of source bytes.
func Hash(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// Input is one generation input. A Stdin input carries its program text in
// Content; otherwise Source.Src is the path of the program.
type Input struct {
	Stdin   bool
	Source  models.Source
	Content []byte
}

// Result describes a rendered artifact.
type Result struct {
	Key         string
	OutputPath  string
	Dest        string
	NeedsUpload bool
	CacheHit    bool
}

// Options configures a Renderer.
type Options struct {
	Cache    *cache.Manager
	Logger   *slog.Logger
	Recorder metrics.Recorder
	// Timeout bounds a single program execution. Zero means no limit.
	Timeout time.Duration
	// TempDir receives materialized literal sources. Defaults to os.TempDir.
	TempDir string
}

// Renderer executes render programs through the cache.
type Renderer struct {
	cache    *cache.Manager
	logger   *slog.Logger
	recorder metrics.Recorder
	timeout  time.Duration
	tempDir  string
}

// New returns a Renderer backed by opts.Cache.
func New(opts Options) *Renderer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Renderer{
		cache:    opts.Cache,
		logger:   opts.Logger.With(slog.String("component", "render")),
		recorder: metrics.OrNoop(opts.Recorder),
		timeout:  opts.Timeout,
		tempDir:  opts.TempDir,
	}
}

// Render produces the artifact of in. Identical source bytes share a cache
// entry and the program runs at most once per entry unless force is set.
// NeedsUpload is true when the destination differs from the one recorded
// for the entry by the previous render.
func (r *Renderer) Render(ctx context.Context, in Input, force bool) (Result, error) {
	content, err := r.sourceContent(in)
	if err != nil {
		return Result{}, err
	}
	key := Hash(content)
	log := r.logger.With(logfields.CacheKey(key))

	unlock, err := r.cache.Lock(ctx, key)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	entryDir := r.cache.EntryDir(key)
	res := Result{Key: key}

	if !force && r.cache.Exists(key) {
		if out, ok := r.cachedOutput(entryDir); ok {
			res.OutputPath = out
			res.CacheHit = true
			log.Debug("Cache hit", logfields.Path(out))
			if err := r.cache.Set(key); err != nil {
				return Result{}, err
			}
		}
	}
	r.recorder.IncCacheLookup(res.CacheHit)

	prevDest := readMarker(filepath.Join(entryDir, destMarker))

	if !res.CacheHit {
		log.Debug("Cache miss, rendering")
		program, err := r.program(in, key, content)
		if err != nil {
			return Result{}, err
		}
		out, err := r.execute(ctx, key, program, entryDir)
		if err != nil {
			if delErr := r.cache.DeleteEntry(key); delErr != nil {
				log.Warn("Failed to roll back cache entry", logfields.Error(delErr))
			}
			return Result{}, err
		}
		rel, _ := filepath.Rel(entryDir, out)
		if err := writeMarker(filepath.Join(entryDir, outputMarker), rel); err != nil {
			return Result{}, err
		}
		if err := r.cache.Set(key); err != nil {
			return Result{}, err
		}
		res.OutputPath = out
		log.Debug("Rendered", logfields.Path(out))
	}

	res.Dest = destination(in.Source, key, filepath.Ext(res.OutputPath))
	res.NeedsUpload = res.Dest != prevDest
	if err := writeMarker(filepath.Join(entryDir, destMarker), res.Dest); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (r *Renderer) sourceContent(in Input) ([]byte, error) {
	if in.Stdin {
		if in.Content != nil {
			return in.Content, nil
		}
		return []byte(in.Source.Src), nil
	}
	data, err := os.ReadFile(in.Source.Src)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read render source").
			WithContext("path", in.Source.Src).
			Build()
	}
	return data, nil
}

// program returns an executable path for in, materializing literal sources
// to <tmp>/<key>.
func (r *Renderer) program(in Input, key string, content []byte) (string, error) {
	if !in.Stdin {
		return in.Source.Src, nil
	}
	path := filepath.Join(r.tempDir, key)
	if err := os.WriteFile(path, content, 0o755); err != nil { //nolint:gosec // render sources are executed on purpose
		return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to materialize render source").
			WithContext("path", path).
			Build()
	}
	if err := os.Chmod(path, 0o755); err != nil { //nolint:gosec // see above
		return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to mark render source executable").
			WithContext("path", path).
			Build()
	}
	return path, nil
}

// execute runs program with a fresh entry directory and returns the output
// artifact path.
func (r *Renderer) execute(ctx context.Context, key, program, entryDir string) (string, error) {
	if err := os.RemoveAll(entryDir); err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to reset cache entry").
			WithContext("cache_key", key).
			Build()
	}
	if _, err := r.cache.EnsureEntryDir(key); err != nil {
		return "", err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	abs, err := filepath.Abs(program)
	if err != nil {
		abs = program
	}
	cmd := exec.CommandContext(ctx, abs) //nolint:gosec // running the render source is the point
	cmd.Env = append(os.Environ(), OutputDirEnv+"="+entryDir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	r.recorder.ObserveRenderDuration(time.Since(start), runErr == nil)
	if runErr != nil {
		execErr := &RenderExecutionError{Key: key, Source: program, Stderr: stderr.String(), Err: runErr}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			execErr.ExitCode = exitErr.ExitCode()
		}
		return "", execErr
	}

	return captureOutput(key, entryDir, stdout.Bytes())
}

// captureOutput stores recognized binary stdout as output.<ext>, or treats
// stdout as the name of a file the program wrote into entryDir.
func captureOutput(key, entryDir string, stdout []byte) (string, error) {
	if t, ok := filetype.Detect(stdout); ok {
		path := filepath.Join(entryDir, outputStem+"."+t.Ext)
		if err := os.WriteFile(path, stdout, 0o600); err != nil {
			return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to write render output").
				WithContext("path", path).
				Build()
		}
		return path, nil
	}

	name := strings.TrimSpace(string(stdout))
	path := filepath.Join(entryDir, name)
	if name == "" || !within(entryDir, path) {
		return "", &MissingOutputFileError{Key: key, Path: path}
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return "", &MissingOutputFileError{Key: key, Path: path}
	}
	return path, nil
}

// cachedOutput returns the recorded output of an entry when it still exists
// inside the entry directory.
func (r *Renderer) cachedOutput(entryDir string) (string, bool) {
	recorded := readMarker(filepath.Join(entryDir, outputMarker))
	if recorded == "" {
		return "", false
	}
	path := recorded
	if !filepath.IsAbs(path) {
		path = filepath.Join(entryDir, recorded)
	}
	if !within(entryDir, path) {
		return "", false
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

// destination is the explicit destination of src, or key+ext when none was
// given. Names are compared in NFC form.
func destination(src models.Source, key, ext string) string {
	if src.BlankDest || src.Dest == "" {
		return key + ext
	}
	return norm.NFC.String(src.Dest)
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func readMarker(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return norm.NFC.String(strings.TrimSpace(string(data)))
}

func writeMarker(path, value string) error {
	if err := os.WriteFile(path, []byte(value), 0o600); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryCache, "failed to write cache marker").
			WithContext("path", path).
			Build()
	}
	return nil
}
