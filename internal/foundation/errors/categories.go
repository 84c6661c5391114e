package errors

import "maps"

// ErrorCategory classifies an error. The CLI maps categories to exit codes.
type ErrorCategory string

const (
	// Caller input: configuration, arguments and lookups.
	CategoryConfig        ErrorCategory = "config"
	CategoryValidation    ErrorCategory = "validation"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryAlreadyExists ErrorCategory = "already_exists"

	// Remote hosts and the upload step.
	CategoryNetwork ErrorCategory = "network"
	CategoryUpload  ErrorCategory = "upload"
	CategoryTimeout ErrorCategory = "timeout"

	// Pipeline stages, render programs, plugins and the render cache.
	CategoryHook       ErrorCategory = "hook"
	CategoryRender     ErrorCategory = "render"
	CategoryPlugin     ErrorCategory = "plugin"
	CategoryCache      ErrorCategory = "cache"
	CategoryFileSystem ErrorCategory = "filesystem"

	// Process level failures.
	CategoryRuntime  ErrorCategory = "runtime"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates the impact level of an error.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution completely
	SeverityError   ErrorSeverity = "error"   // Fails the current operation
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// RetryStrategy indicates how an error should be handled in retry scenarios.
type RetryStrategy string

const (
	RetryNever      RetryStrategy = "never"      // Permanent failure, don't retry
	RetryImmediate  RetryStrategy = "immediate"  // Retry immediately
	RetryBackoff    RetryStrategy = "backoff"    // Retry with backoff
	RetryRateLimit  RetryStrategy = "rate_limit" // Retry after rate limit window
	RetryUserAction RetryStrategy = "user"       // Requires user intervention
)

// ErrorContext holds key/value details attached to an error, such as the
// hook, path or cache key involved.
type ErrorContext map[string]any

// Get retrieves a context value.
func (c ErrorContext) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	value, exists := c[key]
	return value, exists
}

// Set returns a copy of c with key set to value.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	result := make(ErrorContext, len(c)+1)
	maps.Copy(result, c)
	result[key] = value
	return result
}

// GetString retrieves a string context value.
func (c ErrorContext) GetString(key string) (string, bool) {
	if value, exists := c.Get(key); exists {
		if str, ok := value.(string); ok {
			return str, true
		}
	}
	return "", false
}

// Merge combines two contexts, with other taking precedence.
func (c ErrorContext) Merge(other ErrorContext) ErrorContext {
	if c == nil {
		return other
	}
	if other == nil {
		return c
	}
	result := make(ErrorContext)
	maps.Copy(result, c)
	maps.Copy(result, other)
	return result
}
