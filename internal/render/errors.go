package render

import (
	"fmt"
	"strings"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
)

// RenderExecutionError reports a render program that could not be run or
// exited non-zero.
type RenderExecutionError struct {
	Key      string
	Source   string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *RenderExecutionError) Error() string {
	msg := fmt.Sprintf("render of %s failed", e.Source)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		return msg + ": " + s
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *RenderExecutionError) Unwrap() error { return e.Err }

func (e *RenderExecutionError) Category() ferrors.ErrorCategory { return ferrors.CategoryRender }

// MissingOutputFileError reports a render program whose stdout named a file
// that does not exist inside its output directory.
type MissingOutputFileError struct {
	Key  string
	Path string
}

func (e *MissingOutputFileError) Error() string {
	return fmt.Sprintf("render output file %q not found", e.Path)
}

func (e *MissingOutputFileError) Category() ferrors.ErrorCategory { return ferrors.CategoryRender }
