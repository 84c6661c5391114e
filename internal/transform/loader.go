// Package transform holds the transformers that turn artifact sources into
// buffers.
package transform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/imbed/internal/filetype"
	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/source"
)

// DefaultFetchTimeout bounds a web fetch when the loader has none set.
const DefaultFetchTimeout = 10 * time.Second

// Info is a loaded source.
type Info struct {
	Buffer   []byte
	FileName string
	Ext      string // with the leading dot
}

// TimeoutError is returned when an operation outlives its deadline.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timeout after %s", e.Op, e.Timeout)
}

// Category implements errors.Categorized.
func (e *TimeoutError) Category() ferrors.ErrorCategory { return ferrors.CategoryTimeout }

// WithTimeout runs fn and returns a TimeoutError if it has not finished
// after d. The context passed to fn is canceled on timeout and the timer is
// always stopped.
func WithTimeout[T any](ctx context.Context, op string, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		return zero, &TimeoutError{Op: op, Timeout: d}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Loader reads sources from disk or the web.
type Loader struct {
	Client  *http.Client
	Timeout time.Duration
}

// Load reads src, fetching http(s) URLs and reading everything else as a
// local file.
func (l *Loader) Load(ctx context.Context, src string) (Info, error) {
	if source.IsURL(src) {
		return l.FetchWithTimeout(ctx, src)
	}
	return l.fromLocal(src)
}

func (l *Loader) fromLocal(p string) (Info, error) {
	buf, err := os.ReadFile(p)
	if err != nil {
		b := ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read source")
		if errors.Is(err, os.ErrNotExist) {
			b = ferrors.WrapError(err, ferrors.CategoryNotFound, "source not found")
		}
		return Info{}, b.WithContext("path", p).Build()
	}
	return Info{Buffer: buf, FileName: filepath.Base(p), Ext: filepath.Ext(p)}, nil
}

// FetchWithTimeout downloads an image from rawURL within the loader timeout.
// Responses without an image content type are rejected.
func (l *Loader) FetchWithTimeout(ctx context.Context, rawURL string) (Info, error) {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return WithTimeout(ctx, "fetch "+rawURL, timeout, func(ctx context.Context) (Info, error) {
		return l.fetch(ctx, rawURL)
	})
}

func (l *Loader) fetch(ctx context.Context, rawURL string) (Info, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Info{}, ferrors.ValidationError("invalid source URL").WithCause(err).WithContext("url", rawURL).Build()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return Info{}, ferrors.ValidationError("failed to create request").WithCause(err).WithContext("url", rawURL).Build()
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Info{}, ferrors.NetworkError("failed to fetch source").WithCause(err).WithContext("url", rawURL).Retryable().Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return Info{}, ferrors.NetworkError("failed to fetch source").
			WithContext("url", rawURL).
			WithContext("status", resp.Status).
			Build()
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "image") {
		return Info{}, ferrors.ValidationError("source is not an image").
			WithContext("url", rawURL).
			WithContext("content_type", ct).
			Build()
	}
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return Info{}, ferrors.NetworkError("failed to read response").WithCause(err).WithContext("url", rawURL).Build()
	}

	ext := path.Ext(u.Path)
	if e, ok := filetype.ExtFor(ct); ok {
		ext = "." + e
	}
	return Info{Buffer: buf, FileName: path.Base(u.Path), Ext: ext}, nil
}
