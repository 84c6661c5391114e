package transform

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/models"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestWithTimeout(t *testing.T) {
	v, err := WithTimeout(context.Background(), "fast", time.Second, func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	canceled := make(chan struct{})
	_, err = WithTimeout(context.Background(), "slow", 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(canceled)
		return 0, ctx.Err()
	})
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "slow", te.Op)
	assert.Equal(t, ferrors.CategoryTimeout, te.Category())

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("operation context was not canceled on timeout")
	}
}

func TestLoader_Local(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(p, []byte("data"), 0o600))

	l := &Loader{}
	info, err := l.Load(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Info{Buffer: []byte("data"), FileName: "a.png", Ext: ".png"}, info)

	_, err = l.Load(context.Background(), filepath.Join(dir, "missing.png"))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
}

func TestLoader_Web(t *testing.T) {
	img := pngBytes(t, 2, 2)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img/pic":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(img)
		case "/page.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		case "/slow.png":
			<-release
		}
	}))
	defer srv.Close()
	defer close(release)

	l := &Loader{Client: srv.Client(), Timeout: time.Second}
	info, err := l.Load(context.Background(), srv.URL+"/img/pic")
	require.NoError(t, err)
	assert.Equal(t, img, info.Buffer)
	assert.Equal(t, "pic", info.FileName)
	assert.Equal(t, ".png", info.Ext)

	_, err = l.Load(context.Background(), srv.URL+"/page.html")
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))

	l.Timeout = 30 * time.Millisecond
	_, err = l.Load(context.Background(), srv.URL+"/slow.png")
	var te *TimeoutError
	assert.ErrorAs(t, err, &te)
}

func TestPathHook(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("A"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.gif"), []byte("B"), 0o600))

	run := models.NewRun("r", []string{"a", "b", "c"}, models.RunOptions{})
	run.Input[0].Source = models.Source{Src: filepath.Join(dir, "a.png"), Dest: "a.png", BlankDest: true}
	run.Input[1].Source = models.Source{Src: filepath.Join(dir, "b.gif"), Dest: "renamed.gif"}
	run.Input[2].Source = models.Source{Src: filepath.Join(dir, "rendered.sh"), Dest: "out.svg"}
	run.Output[2].Buffer = []byte("rendered")

	h := &PathHook{Loader: &Loader{}}
	require.NoError(t, h.Handle(context.Background(), run))

	assert.Equal(t, []byte("A"), run.Output[0].Buffer)
	assert.Equal(t, "a.png", run.Output[0].FileName)
	assert.Equal(t, "renamed.gif", run.Output[1].FileName)
	assert.Equal(t, ".gif", run.Output[1].Extension)
	assert.Equal(t, []byte("rendered"), run.Output[2].Buffer)

	bad := models.NewRun("r", []string{"x"}, models.RunOptions{})
	bad.Input[0].Source = models.Source{Src: filepath.Join(dir, "nope.png")}
	assert.Error(t, h.Handle(context.Background(), bad))
}

func TestBase64Hook(t *testing.T) {
	img := pngBytes(t, 1, 1)
	enc := base64.StdEncoding.EncodeToString(img)
	now := time.Date(2024, 3, 9, 10, 11, 12, 345e6, time.UTC)

	run := models.NewRun("r", []string{"data:image/png;base64," + enc, enc + "|logo.png"}, models.RunOptions{})
	h := &Base64Hook{Now: func() time.Time { return now }}
	require.NoError(t, h.Handle(context.Background(), run))

	assert.Equal(t, img, run.Output[0].Buffer)
	assert.Equal(t, "2024-03-09-10-11-12-345.png", run.Output[0].FileName)
	assert.Equal(t, "logo.png", run.Output[1].FileName)

	bad := models.NewRun("r", []string{"!!not base64!!"}, models.RunOptions{})
	assert.Error(t, h.Handle(context.Background(), bad))
}

func TestTimestampFilename(t *testing.T) {
	base := time.Date(2024, 3, 9, 10, 11, 12, 0, time.UTC)
	assert.Equal(t, "2024-03-09-10-11-12-000.png", TimestampFilename(base, ".png"))
	assert.Equal(t, "2024-03-09-10-11-12-007.png", TimestampFilename(base.Add(7*time.Millisecond), ".png"))
	assert.NotEqual(t, TimestampFilename(base, ".png"), TimestampFilename(base.Add(time.Millisecond), ".png"))
}

func decodeSize(t *testing.T, buf []byte) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(buf))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestResize(t *testing.T) {
	src := pngBytes(t, 100, 50)
	tests := []struct {
		name  string
		opts  ResizeOptions
		wantW int
		wantH int
	}{
		{"width only", ResizeOptions{Width: 50, Fit: FitContain}, 50, 25},
		{"height only", ResizeOptions{Height: 10, Fit: FitContain}, 20, 10},
		{"contain", ResizeOptions{Width: 40, Height: 40, Fit: FitContain}, 40, 20},
		{"cover", ResizeOptions{Width: 20, Height: 20, Fit: FitCover}, 20, 20},
		{"fill", ResizeOptions{Width: 10, Height: 40, Fit: FitFill}, 10, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ext, err := Resize(src, tt.opts)
			require.NoError(t, err)
			assert.Empty(t, ext)
			w, h := decodeSize(t, out)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestMinifyHook(t *testing.T) {
	run := models.NewRun("r", []string{"a", "b", "c"}, models.RunOptions{})
	for _, rec := range run.Output {
		rec.Buffer = pngBytes(t, 100, 50)
	}
	run.Input[0].Options = map[string]any{"width": 50}
	run.Input[2].Options = map[string]any{"width": 10}
	run.Output[2].Buffer = []byte("<svg xmlns=\"http://www.w3.org/2000/svg\"/>")

	require.NoError(t, MinifyHook{}.Handle(context.Background(), run))
	w, _ := decodeSize(t, run.Output[0].Buffer)
	assert.Equal(t, 50, w)
	w, _ = decodeSize(t, run.Output[1].Buffer)
	assert.Equal(t, 100, w, "records without options are untouched")
	assert.Equal(t, []byte("<svg xmlns=\"http://www.w3.org/2000/svg\"/>"), run.Output[2].Buffer)

	run.Input[0].Options = map[string]any{"width": 10, "fit": "stretch"}
	assert.Error(t, MinifyHook{}.Handle(context.Background(), run))
}
