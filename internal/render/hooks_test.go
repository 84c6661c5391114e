package render

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/imbed/internal/hooks"
	"git.home.luguber.info/inful/imbed/internal/models"
)

func transformers(t *testing.T, withRender bool) *hooks.Registry {
	t.Helper()
	r := hooks.NewRegistry(hooks.Transformer)
	if withRender {
		require.NoError(t, r.Register("core", HookName, &TransformHook{}))
	}
	return r
}

func TestStdinHook_ReadsSource(t *testing.T) {
	run := models.NewRun("id", []string{"stdin"}, models.RunOptions{})
	h := &StdinHook{Transformers: transformers(t, true), Stdin: strings.NewReader(pngScript)}

	require.NoError(t, h.Handle(context.Background(), run))
	assert.True(t, run.Input[0].Stdin)
	assert.Equal(t, []byte(pngScript), run.Input[0].Content)
}

func TestStdinHook_RejectsMultipleJobs(t *testing.T) {
	run := models.NewRun("id", []string{"stdin", "other.sh"}, models.RunOptions{})
	h := &StdinHook{Transformers: transformers(t, true), Stdin: strings.NewReader("x")}
	require.Error(t, h.Handle(context.Background(), run))
}

func TestStdinHook_InactiveWithoutRenderTransformer(t *testing.T) {
	run := models.NewRun("id", []string{"stdin"}, models.RunOptions{})
	h := &StdinHook{Transformers: transformers(t, false), Stdin: strings.NewReader("x")}
	require.NoError(t, h.Handle(context.Background(), run))
	assert.False(t, run.Input[0].Stdin)
	assert.Nil(t, run.Input[0].Content)
}

func TestTransformHook_FillsRecords(t *testing.T) {
	f := newFixture(t)
	src := f.script(t, "hook.sh", pngScript)

	run := models.NewRun("id", []string{src}, models.RunOptions{})
	run.Input[0].Source = models.Source{Src: src, Dest: "chart.png"}

	h := &TransformHook{Renderer: f.renderer}
	require.NoError(t, h.Handle(context.Background(), run))

	rec := run.Output[0]
	assert.Equal(t, "chart.png", rec.FileName)
	assert.Equal(t, ".png", rec.Extension)
	assert.True(t, rec.NeedsUpload)
	assert.True(t, strings.HasPrefix(string(rec.Buffer), "\x89PNG"))

	run2 := models.NewRun("id2", []string{src}, models.RunOptions{})
	run2.Input[0].Source = models.Source{Src: src, Dest: "chart.png"}
	require.NoError(t, h.Handle(context.Background(), run2))
	assert.False(t, run2.Output[0].NeedsUpload)
	assert.Equal(t, filepath.Ext(rec.FileName), run2.Output[0].Extension)
}
