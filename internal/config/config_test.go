package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultUploader, c.Core.Uploader)
	assert.Equal(t, []string{"path"}, c.Core.Transforms)
	assert.Equal(t, DefaultCacheCapacity, c.Cache.Capacity)
	assert.Equal(t, DefaultFetchTimeout, c.Core.FetchTimeout)
	assert.Equal(t, path, c.Path())
	assert.Equal(t, filepath.Dir(path), c.BaseDir())
}

func TestLoad_ExpandsEnvAndDotenv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("IMBED_TEST_TOKEN=from-dotenv\n"), 0o600))
	t.Setenv("IMBED_TEST_DIR", "/srv/images")
	t.Cleanup(func() { _ = os.Unsetenv("IMBED_TEST_TOKEN") })

	data := `
core:
  uploader: smms
  transforms: [path, minify]
uploaders:
  local:
    dir: ${IMBED_TEST_DIR}
  smms:
    token: ${IMBED_TEST_TOKEN}
cache:
  capacity: 2
render:
  timeout: 30s
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "smms", c.Core.Uploader)
	assert.Equal(t, []string{"path", "minify"}, c.Core.Transforms)
	assert.Equal(t, "/srv/images", c.Uploaders.Local.Dir)
	assert.Equal(t, "from-dotenv", c.Uploaders.SMMS.Token)
	assert.Equal(t, 2, c.Cache.Capacity)
	assert.Equal(t, 30*time.Second, c.Render.Timeout)
}

func TestLoad_DotenvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("IMBED_TEST_KEEP=dotenv\n"), 0o600))
	t.Setenv("IMBED_TEST_KEEP", "process")

	_, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "process", os.Getenv("IMBED_TEST_KEEP"))
}

func TestParse_InvalidRetryMode(t *testing.T) {
	_, err := Parse([]byte("retry:\n  mode: sometimes\n"))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestParse_Malformed(t *testing.T) {
	_, err := Load(writeFile(t, "core: [unclosed"))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestGetSet(t *testing.T) {
	c := Default()

	v, err := c.Get("core.uploader")
	require.NoError(t, err)
	assert.Equal(t, "local", v)

	require.NoError(t, c.Set("core.uploader", "git"))
	assert.Equal(t, "git", c.Core.Uploader)

	require.NoError(t, c.Set("core.transforms", "[path, render]"))
	assert.Equal(t, []string{"path", "render"}, c.Core.Transforms)

	require.NoError(t, c.Set("enabled.imbed-plugin-demo", "true"))
	assert.True(t, c.PluginEnabled("imbed-plugin-demo"))

	require.NoError(t, c.Set("cache.capacity", "42"))
	assert.Equal(t, 42, c.Cache.Capacity)

	_, err = c.Get("core.nope")
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))

	err = c.Set("retry.mode", "sometimes")
	require.Error(t, err)
	assert.Equal(t, RetryBackoffExponential, c.Retry.Mode, "failed Set must leave config untouched")
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	c := Default()
	c.SetPath(path)
	require.NoError(t, c.Set("uploaders.local.base_url", "https://img.example.com/"))
	require.NoError(t, c.Save())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/", loaded.Uploaders.Local.BaseURL)
	assert.Equal(t, c.Retry, loaded.Retry)
}

func TestSave_WithoutPath(t *testing.T) {
	require.Error(t, Default().Save())
}

func TestNormalizeRetryBackoff(t *testing.T) {
	assert.Equal(t, RetryBackoffLinear, NormalizeRetryBackoff(" Linear "))
	assert.Equal(t, RetryBackoffMode(""), NormalizeRetryBackoff("random"))
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
