package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryConfig, "invalid configuration").
			WithSeverity(SeverityFatal).
			WithContext("file", "config.yaml").
			Build()

		assert.Equal(t, CategoryConfig, err.Category())
		assert.Equal(t, SeverityFatal, err.Severity())
		assert.Equal(t, "invalid configuration", err.Message())

		file, ok := err.Context().GetString("file")
		require.True(t, ok)
		assert.Equal(t, "config.yaml", file)
	})

	t.Run("Wrapped chain is searchable", func(t *testing.T) {
		cause := stderrors.New("connection reset")
		err := WrapError(cause, CategoryUpload, "upload failed").Retryable().Build()
		outer := fmt.Errorf("stage upload: %w", err)

		assert.True(t, IsClassified(outer))
		assert.True(t, HasCategory(outer, CategoryUpload))
		assert.True(t, IsRetryable(outer))
		assert.ErrorIs(t, outer, cause)
		assert.Equal(t, CategoryInternal, GetCategory(cause))
	})

	t.Run("WithContext copies", func(t *testing.T) {
		base := CacheError("state write failed").Build()
		withKey := base.WithContext("key", "abc")

		_, ok := base.Context().Get("key")
		assert.False(t, ok)
		v, ok := withKey.Context().GetString("key")
		require.True(t, ok)
		assert.Equal(t, "abc", v)
	})
}

func TestErrorContextSet(t *testing.T) {
	var empty ErrorContext
	one := empty.Set("hook", "path")
	two := one.Set("stage", "transformer")

	assert.Nil(t, empty)
	assert.Len(t, one, 1)
	v, ok := two.GetString("hook")
	require.True(t, ok)
	assert.Equal(t, "path", v)
	_, ok = one.Get("stage")
	assert.False(t, ok)
}

func TestErrorBuilderConvenience(t *testing.T) {
	assert.True(t, ConfigError("x").Build().IsFatal())
	assert.True(t, NetworkError("x").Build().CanRetry())
	assert.False(t, ValidationError("x").Build().CanRetry())
	assert.False(t, NewError(CategoryUpload, "x").UserAction().Build().CanRetry())
	assert.True(t, NewError(CategoryUpload, "x").RateLimit().Build().IsTransient())
}

type categorizedErr struct{}

func (categorizedErr) Error() string           { return "duplicate" }
func (categorizedErr) Category() ErrorCategory { return CategoryAlreadyExists }

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, 0},
		{"validation", ValidationError("bad input").Build(), 2},
		{"config", ConfigError("bad config").Build(), 7},
		{"upload", UploadError("denied").Build(), 8},
		{"render wrapped", fmt.Errorf("ctx: %w", RenderError("exit 1").Build()), 11},
		{"domain categorized", categorizedErr{}, 3},
		{"unclassified", stderrors.New("boom"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, adapter.ExitCodeFor(tt.err))
		})
	}
}

func TestCLIErrorAdapter_HandleError(t *testing.T) {
	var out bytes.Buffer
	var code int
	adapter := NewCLIErrorAdapter(false, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	adapter.out = &out
	adapter.exit = func(c int) { code = c }

	adapter.HandleError(ConfigError("missing uploader").Build())

	assert.Equal(t, 7, code)
	assert.Equal(t, "Error: missing uploader\n", out.String())
}
