// Package hooks implements the named, dependency-ordered hook registries
// that make up the pipeline stages.
package hooks

import (
	"context"

	"git.home.luguber.info/inful/imbed/internal/models"
)

// Registry names, one per lifecycle stage.
const (
	BeforeTransform = "beforeTransform"
	Transformer     = "transformer"
	BeforeUpload    = "beforeUpload"
	Uploader        = "uploader"
	AfterUpload     = "afterUpload"
)

// DefaultGroup tags hooks registered without an explicit group.
const DefaultGroup = "core"

// Hook is any value registered in a Registry. It takes part in a stage by
// implementing Handler; a hook implementing only Configurer is kept for its
// configuration form and skipped at execution time.
type Hook any

// Handler runs a hook against the current run.
type Handler interface {
	Handle(ctx context.Context, run *models.Run) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, run *models.Run) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, run *models.Run) error { return f(ctx, run) }

// FormField describes one interactive configuration question.
type FormField struct {
	Name     string
	Type     string
	Message  string
	Required bool
	Default  any
	Choices  []string
}

// Configurer exposes the configuration form of a hook.
type Configurer interface {
	Config(run *models.Run) []FormField
}

// ErrorHandler lets a hook inspect its own failure. Returning nil suppresses
// the error and the stage continues.
type ErrorHandler interface {
	HandleError(run *models.Run, err error) error
}

// SoftUploader is implemented by uploaders that can skip artifacts whose
// content and destination are unchanged.
type SoftUploader interface {
	SupportsSoftUpload() bool
}

// SuggestOptions filters an uploader listing.
type SuggestOptions struct {
	Prefix string
	Marker string
	Limit  int
}

// SuggestItem is one previously uploaded artifact.
type SuggestItem struct {
	Name string
	URL  string
}

// SuggestResult is a page of previously uploaded artifacts.
type SuggestResult struct {
	Results   []SuggestItem
	Truncated bool
}

// Suggester lists artifacts an uploader already holds.
type Suggester interface {
	Suggest(ctx context.Context, run *models.Run, opts SuggestOptions) (SuggestResult, error)
}

// Entry is a registered hook.
type Entry struct {
	Name         string
	Hook         Hook
	Dependencies []string
	Group        string
}

// Handler returns the executable entry point of the hook, if any.
func (e Entry) Handler() (Handler, bool) {
	h, ok := e.Hook.(Handler)
	if !ok {
		return nil, false
	}
	if hf, isFunc := h.(HandlerFunc); isFunc && hf == nil {
		return nil, false
	}
	return h, true
}

func validHook(hook Hook) bool {
	switch h := hook.(type) {
	case nil:
		return false
	case HandlerFunc:
		return h != nil
	case Handler, Configurer:
		return true
	default:
		return false
	}
}
