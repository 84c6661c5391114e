package pipeline

import (
	"errors"
	"fmt"
	"strings"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
)

// MissingHookError reports requested hook names a registry does not hold.
// No hook of the stage has run when it is returned.
type MissingHookError struct {
	Registry string
	Names    []string
}

func (e *MissingHookError) Error() string {
	return fmt.Sprintf("unknown %s: %s", e.Registry, strings.Join(e.Names, ", "))
}

func (e *MissingHookError) Category() ferrors.ErrorCategory { return ferrors.CategoryNotFound }

// HookExecutionError wraps the failure of a single hook.
type HookExecutionError struct {
	Registry string
	Hook     string
	Err      error
}

func (e *HookExecutionError) Error() string {
	return fmt.Sprintf("%s - %s failed: %v", e.Registry, e.Hook, e.Err)
}

func (e *HookExecutionError) Unwrap() error { return e.Err }

// Category reports the category of the wrapped error when it has one, so
// exit codes reflect the underlying failure.
func (e *HookExecutionError) Category() ferrors.ErrorCategory {
	var c ferrors.Categorized
	if errors.As(e.Err, &c) {
		return c.Category()
	}
	return ferrors.CategoryHook
}
