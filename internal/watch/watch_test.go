package watch

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/models"
	"git.home.luguber.info/inful/imbed/internal/pipeline"
)

type fakeRenderer struct {
	calls chan []string
}

func (f *fakeRenderer) Render(_ context.Context, inputs []string, opts pipeline.RenderOptions) (*models.Run, error) {
	f.calls <- inputs
	return models.NewRun("run", inputs, models.RunOptions{Render: true, BaseDir: opts.BaseDir}), nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New([]string{"a.sh"}, Options{})
	require.Error(t, err)

	r := &fakeRenderer{calls: make(chan []string, 1)}
	_, err = New(nil, Options{Renderer: r})
	require.Error(t, err)

	_, err = New([]string{"https://example.com/a.sh"}, Options{Renderer: r})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))

	_, err = New([]string{"stdin"}, Options{Renderer: r})
	require.Error(t, err)
}

func TestWatcher_RendersChangedInputs(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.sh")
	b := filepath.Join(dir, "b.sh")
	require.NoError(t, os.WriteFile(a, []byte("echo a"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("echo b"), 0o600))

	r := &fakeRenderer{calls: make(chan []string, 8)}
	inputs := []string{"a.sh|a.png", "b.sh::width=10"}
	w, err := New(inputs, Options{
		Renderer: r,
		Render:   pipeline.RenderOptions{BaseDir: dir},
		Debounce: 20 * time.Millisecond,
		Initial:  true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case got := <-r.calls:
		assert.Equal(t, inputs, got)
	case <-time.After(5 * time.Second):
		t.Fatal("initial render did not happen")
	}

	// Give the watcher time to enter its loop before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(b, []byte("echo b2"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("echo b3"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))

	select {
	case got := <-r.calls:
		assert.Equal(t, []string{"b.sh::width=10"}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("change was not rendered")
	}

	cancel()
	require.NoError(t, <-done)
}

type countingSweeper struct {
	mu sync.Mutex
	n  int
	ch chan struct{}
}

func (c *countingSweeper) Sweep() ([]string, error) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	select {
	case c.ch <- struct{}{}:
	default:
	}
	return []string{"k"}, nil
}

func TestScheduler_Sweeps(t *testing.T) {
	s, err := NewScheduler(nil)
	require.NoError(t, err)

	_, err = s.ScheduleSweep(0, &countingSweeper{})
	require.Error(t, err)

	sw := &countingSweeper{ch: make(chan struct{}, 1)}
	id, err := s.ScheduleSweep(10*time.Millisecond, sw)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	s.Start()
	select {
	case <-sw.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not run")
	}
	require.NoError(t, s.Stop(context.Background()))
}

func TestServeMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeMetrics(ctx, "127.0.0.1:0", http.NotFoundHandler(), nil)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	err := ServeMetrics(context.Background(), "127.0.0.1:-1", http.NotFoundHandler(), nil)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNetwork))
}
