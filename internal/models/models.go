// Package models holds the per-run state shared by every pipeline stage.
package models

import (
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/imbed/internal/config"
	"git.home.luguber.info/inful/imbed/internal/events"
)

// Stage names the phase a run is currently in.
type Stage string

const (
	StageIdle            Stage = ""
	StageBeforeTransform Stage = "before-transform"
	StageTransform       Stage = "transform"
	StageBeforeUpload    Stage = "before-upload"
	StageUpload          Stage = "upload"
	StageAfterUpload     Stage = "after-upload"
	StageDone            Stage = "done"
)

// SpecialStdin is the source name that reads generation input from stdin.
const SpecialStdin = "stdin"

// Source is a parsed "src|dest" input location.
type Source struct {
	Src  string
	Dest string
	// BlankDest is set when no explicit destination was given and Dest was
	// derived from the source.
	BlankDest bool
}

// IsStdin reports whether the source reads from standard input.
func (s Source) IsStdin() bool { return s.Src == SpecialStdin }

// ArtifactSpec is one input item of a run.
type ArtifactSpec struct {
	Raw     string
	Options map[string]any
	Source  Source
	// Stdin is set when the generation input was read from standard input.
	Stdin bool
	// Content holds literal source text, e.g. read from stdin.
	Content []byte
}

// Option returns the named option, or nil.
func (a *ArtifactSpec) Option(name string) any {
	if a == nil || a.Options == nil {
		return nil
	}
	return a.Options[name]
}

// ArtifactRecord is the output slot of one artifact, mutated in place by
// successive hooks.
type ArtifactRecord struct {
	Input       *ArtifactSpec
	Buffer      []byte
	FileName    string
	Extension   string
	Width       int
	Height      int
	NeedsUpload bool
	URL         string
	Uploader    string
	Extra       map[string]any
}

// RunOptions are the caller supplied knobs of a run.
type RunOptions struct {
	Transforms  []string
	Uploader    string
	Render      bool
	ForceRender bool
	ForceUpload bool
	BaseDir     string
}

// Run is a single pipeline invocation.
type Run struct {
	ID      string
	Raw     []string
	Input   []*ArtifactSpec
	Output  []*ArtifactRecord
	Options RunOptions
	Config  *config.Config
	Logger  *slog.Logger
	Events  *events.Channel

	mu       sync.Mutex
	stage    Stage
	progress int
}

// NewRun creates a run with one empty output record per input, index
// aligned with the input list.
func NewRun(id string, inputs []string, opts RunOptions) *Run {
	r := &Run{
		ID:      id,
		Raw:     append([]string(nil), inputs...),
		Options: opts,
		Input:   make([]*ArtifactSpec, len(inputs)),
		Output:  make([]*ArtifactRecord, len(inputs)),
	}
	for i, in := range inputs {
		spec := &ArtifactSpec{Raw: in, Source: Source{Src: in}}
		r.Input[i] = spec
		r.Output[i] = &ArtifactRecord{Input: spec}
	}
	return r
}

// Stage returns the current stage marker.
func (r *Run) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// SetStage moves the run to stage.
func (r *Run) SetStage(stage Stage) {
	r.mu.Lock()
	r.stage = stage
	r.mu.Unlock()
}

// Progress returns the current progress percentage.
func (r *Run) Progress() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// AdvanceProgress raises progress to p and reports whether it changed.
// Progress never moves backwards.
func (r *Run) AdvanceProgress(p int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p < r.progress || p > 100 {
		return false
	}
	r.progress = p
	return true
}

// BaseDir returns the directory relative sources are resolved against.
// Empty means the working directory.
func (r *Run) BaseDir() string { return r.Options.BaseDir }

// PendingUploads returns the records flagged for upload.
func (r *Run) PendingUploads() []*ArtifactRecord {
	var out []*ArtifactRecord
	for _, rec := range r.Output {
		if rec != nil && rec.NeedsUpload {
			out = append(out, rec)
		}
	}
	return out
}

// Log returns the run logger, falling back to slog.Default.
func (r *Run) Log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
