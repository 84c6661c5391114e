package commands

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cli := &CLI{}
	g := &Global{Stdin: bytes.NewReader(nil), Stdout: &out}
	parser, err := kong.New(cli, kong.Name("imbed"), kong.Bind(g), kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	err = ctx.Run(g, cli)
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestConfigSetGet(t *testing.T) {
	cfgPath := writeConfig(t, "core:\n  uploader: local\n")

	_, err := run(t, "-c", cfgPath, "config", "set", "uploaders.local.base_url", "https://cdn.example")
	require.NoError(t, err)

	out, err := run(t, "-c", cfgPath, "config", "get", "uploaders.local.base_url")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example\n", out)

	out, err = run(t, "-c", cfgPath, "config", "get", "uploaders.local")
	require.NoError(t, err)
	assert.Contains(t, out, "base_url: https://cdn.example")

	_, err = run(t, "-c", cfgPath, "config", "get", "nope.missing")
	require.Error(t, err)
}

func TestUploadLocal(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	cfgPath := writeConfig(t, "uploaders:\n  local:\n    dir: "+outDir+"\n    base_url: https://cdn.example/img\n")
	src := filepath.Join(dir, "pic.png")
	writePNG(t, src)

	out, err := run(t, "-c", cfgPath, "upload", src)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/img/pic.png\n", out)
	assert.FileExists(t, filepath.Join(outDir, "pic.png"))

	out, err = run(t, "-c", cfgPath, "suggest", "pi")
	require.NoError(t, err)
	assert.Equal(t, "pic.png\thttps://cdn.example/img/pic.png\n", out)
}

func TestUploadUnknownUploader(t *testing.T) {
	cfgPath := writeConfig(t, "")
	src := filepath.Join(t.TempDir(), "pic.png")
	writePNG(t, src)

	_, err := run(t, "-c", cfgPath, "upload", "-u", "nowhere", src)
	require.Error(t, err)
}

func TestHooksTable(t *testing.T) {
	cfgPath := writeConfig(t, "")
	out, err := run(t, "-c", cfgPath, "hooks", "-r", "uploader")
	require.NoError(t, err)
	for _, name := range []string{"local", "git", "smms", "github"} {
		assert.Contains(t, out, name)
	}
	assert.NotContains(t, out, "imgsize")
}

func TestUseUploader(t *testing.T) {
	cfgPath := writeConfig(t, "")
	_, err := run(t, "-c", cfgPath, "use", "uploader", "git")
	require.NoError(t, err)

	out, err := run(t, "-c", cfgPath, "config", "get", "core.uploader")
	require.NoError(t, err)
	assert.Equal(t, "git\n", out)

	_, err = run(t, "-c", cfgPath, "use", "uploader", "nowhere")
	require.Error(t, err)

	_, err = run(t, "-c", cfgPath, "use", "transformer", "path", "minify")
	require.NoError(t, err)
	out, err = run(t, "-c", cfgPath, "config", "get", "core.transforms")
	require.NoError(t, err)
	assert.Equal(t, "- path\n- minify\n", out)
}

func TestCacheCommands(t *testing.T) {
	cfgPath := writeConfig(t, "")
	cacheDir := filepath.Join(filepath.Dir(cfgPath), "render_cache")
	orphan := "0123456789abcdef"
	require.NoError(t, os.MkdirAll(filepath.Join(cacheDir, orphan), 0o750))

	out, err := run(t, "-c", cfgPath, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, cacheDir)

	out, err = run(t, "-c", cfgPath, "cache", "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "orphan "+orphan)
	assert.DirExists(t, filepath.Join(cacheDir, orphan))

	out, err = run(t, "-c", cfgPath, "cache", "verify", "--fix")
	require.NoError(t, err)
	assert.Contains(t, out, "removed "+orphan)
	assert.NoDirExists(t, filepath.Join(cacheDir, orphan))

	_, err = run(t, "-c", cfgPath, "cache", "clear")
	require.NoError(t, err)
}

func TestInstallWithoutCommandFails(t *testing.T) {
	cfgPath := writeConfig(t, "")
	out, err := run(t, "-c", cfgPath, "install", "demo")
	require.Error(t, err)
	assert.Contains(t, out, "install imbed-plugin-demo failed")
}

func TestParseLogLevel(t *testing.T) {
	t.Setenv("IMBED_LOG_LEVEL", "error")
	assert.Equal(t, "ERROR", parseLogLevel(false).String())
	assert.Equal(t, "DEBUG", parseLogLevel(true).String())
}
