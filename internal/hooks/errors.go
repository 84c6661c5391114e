package hooks

import (
	"fmt"
	"strings"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
)

// DuplicateNameError is returned when a hook name is already taken.
type DuplicateNameError struct {
	Registry string
	Name     string
	Group    string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("hook %q already registered in %s registry by group %q", e.Name, e.Registry, e.Group)
}

func (e *DuplicateNameError) Category() ferrors.ErrorCategory { return ferrors.CategoryAlreadyExists }

// InvalidHandlerError is returned when a hook has no usable entry point.
type InvalidHandlerError struct {
	Registry string
	Name     string
}

func (e *InvalidHandlerError) Error() string {
	return fmt.Sprintf("hook %q in %s registry has no handler", e.Name, e.Registry)
}

func (e *InvalidHandlerError) Category() ferrors.ErrorCategory { return ferrors.CategoryValidation }

// CircularDependencyError reports a dependency cycle. Cycle starts and ends
// with the same hook name.
type CircularDependencyError struct {
	Registry string
	Cycle    []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected in %s registry: %s", e.Registry, strings.Join(e.Cycle, " -> "))
}

func (e *CircularDependencyError) Category() ferrors.ErrorCategory { return ferrors.CategoryConfig }

// UnknownDependencyError is returned by Validate for a dependency that no
// hook in the registry provides.
type UnknownDependencyError struct {
	Registry   string
	Name       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("hook %q in %s registry depends on missing hook %q", e.Name, e.Registry, e.Dependency)
}

func (e *UnknownDependencyError) Category() ferrors.ErrorCategory { return ferrors.CategoryConfig }
