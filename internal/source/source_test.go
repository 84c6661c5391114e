package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/models"
)

func TestParseOptions(t *testing.T) {
	opts, src := ParseOptions("chart.sh::width=300,fit=cover,grey=true,bad,ratio=1.5")
	assert.Equal(t, "chart.sh", src)
	assert.Equal(t, map[string]any{"width": 300, "fit": "cover", "grey": true, "ratio": 1.5}, opts)

	opts, src = ParseOptions("plain.png")
	assert.Nil(t, opts)
	assert.Equal(t, "plain.png", src)

	opts, src = ParseOptions("a::b::c")
	assert.Nil(t, opts)
	assert.Equal(t, "a::b::c", src)
}

func TestParseSource(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name  string
		input string
		want  models.Source
	}{
		{"relative", "img/a.png", models.Source{Src: filepath.Join(base, "img/a.png"), Dest: "a.png", BlankDest: true}},
		{"absolute", "/tmp/b.png|c.png", models.Source{Src: "/tmp/b.png", Dest: "c.png"}},
		{"stdin", "stdin|out.svg", models.Source{Src: "stdin", Dest: "out.svg"}},
		{"bare stdin", "stdin", models.Source{Src: "stdin", Dest: "stdin", BlankDest: true}},
		{"url", "https://example.com/p/x.png?s=1", models.Source{Src: "https://example.com/p/x.png?s=1", Dest: "x.png", BlankDest: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSource(tt.input, base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSource_HomeExpansion(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := ParseSource("~/pics/a.png", "/ignored")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "pics/a.png"), got.Src)
}

func TestParseSource_Invalid(t *testing.T) {
	for _, in := range []string{"|dest", "a|b|c"} {
		_, err := ParseSource(in, "/")
		require.Error(t, err, in)
		assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
	}
}

func TestNormalizeHook(t *testing.T) {
	base := t.TempDir()
	run := models.NewRun("r", []string{"a.sh|out.png::width=10", "b.png"}, models.RunOptions{BaseDir: base})

	require.NoError(t, NormalizeHook{}.Handle(context.Background(), run))

	assert.Equal(t, models.Source{Src: filepath.Join(base, "a.sh"), Dest: "out.png"}, run.Input[0].Source)
	assert.Equal(t, 10, run.Input[0].Option("width"))
	assert.True(t, run.Input[1].Source.BlankDest)
	assert.Same(t, run.Input[0], run.Output[0].Input)

	empty := models.NewRun("r", []string{}, models.RunOptions{})
	assert.Error(t, NormalizeHook{}.Handle(context.Background(), empty))
}
