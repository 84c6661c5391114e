// Package config loads and saves the imbed YAML configuration.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
)

const (
	// DefaultDirName is the directory under the user's home holding config,
	// render cache and plugin state.
	DefaultDirName  = ".imbed"
	DefaultFileName = "config.yaml"

	DefaultUploader      = "local"
	DefaultCacheCapacity = 500
	DefaultRenderTimeout = 2 * time.Minute
	DefaultFetchTimeout  = 10 * time.Second
	DefaultSweepInterval = time.Hour
)

// Config is the on-disk configuration.
type Config struct {
	Core      CoreConfig      `yaml:"core"`
	Enabled   map[string]bool `yaml:"enabled,omitempty"`
	Cache     CacheConfig     `yaml:"cache"`
	Render    RenderConfig    `yaml:"render"`
	Uploaders UploadersConfig `yaml:"uploaders"`
	Publish   PublishConfig   `yaml:"publish"`
	Plugins   PluginsConfig   `yaml:"plugins"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Retry     RetryConfig     `yaml:"retry"`

	// path is where the config was loaded from; Save writes back to it.
	path string
}

// CoreConfig holds the pipeline defaults.
type CoreConfig struct {
	Uploader     string        `yaml:"uploader"`
	Transforms   []string      `yaml:"transforms"`
	Proxy        string        `yaml:"proxy,omitempty"`
	FetchTimeout time.Duration `yaml:"fetch_timeout,omitempty"`
}

// CacheConfig configures the render cache.
type CacheConfig struct {
	Capacity      int           `yaml:"capacity"`
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty"`
}

// RenderConfig configures external render programs.
type RenderConfig struct {
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	ForceRender bool          `yaml:"force_render,omitempty"`
	ForceUpload bool          `yaml:"force_upload,omitempty"`
}

// UploadersConfig groups the per-backend sections.
type UploadersConfig struct {
	Local  LocalUploaderConfig  `yaml:"local"`
	Git    GitUploaderConfig    `yaml:"git"`
	SMMS   SMMSUploaderConfig   `yaml:"smms"`
	GitHub GitHubUploaderConfig `yaml:"github"`
}

// LocalUploaderConfig copies artifacts into Dir and serves them from BaseURL.
type LocalUploaderConfig struct {
	Dir     string `yaml:"dir,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// GitUploaderConfig commits artifacts into a local repository.
type GitUploaderConfig struct {
	RepoPath    string `yaml:"repo_path,omitempty"`
	Path        string `yaml:"path,omitempty"`
	BaseURL     string `yaml:"base_url,omitempty"`
	AuthorName  string `yaml:"author_name,omitempty"`
	AuthorEmail string `yaml:"author_email,omitempty"`
}

type SMMSUploaderConfig struct {
	Token    string `yaml:"token,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

type GitHubUploaderConfig struct {
	Repo      string `yaml:"repo,omitempty"`
	Branch    string `yaml:"branch,omitempty"`
	Token     string `yaml:"token,omitempty"`
	Path      string `yaml:"path,omitempty"`
	CustomURL string `yaml:"custom_url,omitempty"`
	APIURL    string `yaml:"api_url,omitempty"`
}

// PublishConfig configures the after-upload hooks.
type PublishConfig struct {
	Markdown MarkdownPublishConfig `yaml:"markdown"`
	NATS     NATSPublishConfig     `yaml:"nats"`
}

type MarkdownPublishConfig struct {
	Files []string `yaml:"files,omitempty"`
}

type NATSPublishConfig struct {
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// PluginsConfig configures the external installer used by install,
// uninstall and update.
type PluginsConfig struct {
	Command  []string `yaml:"command,omitempty"`
	Dir      string   `yaml:"dir,omitempty"`
	Registry string   `yaml:"registry,omitempty"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// RetryConfig configures retries of transient upload failures.
type RetryConfig struct {
	Mode       RetryBackoffMode `yaml:"mode,omitempty"`
	Initial    time.Duration    `yaml:"initial,omitempty"`
	Max        time.Duration    `yaml:"max,omitempty"`
	MaxRetries int              `yaml:"max_retries,omitempty"`
}

// DefaultDir returns ~/.imbed.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryConfig, "cannot determine home directory").Build()
	}
	return filepath.Join(home, DefaultDirName), nil
}

// DefaultPath returns ~/.imbed/config.yaml.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultFileName), nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the configuration at path. A missing file yields the defaults
// so a fresh installation works without setup. Dotenv files next to the
// config are loaded first, then ${VAR} references are expanded.
func Load(path string) (*Config, error) {
	if _, err := loadEnvFiles(filepath.Dir(path)); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to load .env file").
			WithContext("dir", filepath.Dir(path)).
			Build()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		c := Default()
		c.path = path
		return c, nil
	}
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read config file").
			WithContext("path", path).
			Build()
	}

	c, err := Parse(data)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to parse config file").
			WithContext("path", path).
			Build()
	}
	c.path = path
	return c, nil
}

// Parse decodes YAML configuration data after environment expansion.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var c Config
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Core.Uploader == "" {
		c.Core.Uploader = DefaultUploader
	}
	if len(c.Core.Transforms) == 0 {
		c.Core.Transforms = []string{"path"}
	}
	if c.Core.FetchTimeout <= 0 {
		c.Core.FetchTimeout = DefaultFetchTimeout
	}
	if c.Cache.Capacity <= 0 {
		c.Cache.Capacity = DefaultCacheCapacity
	}
	if c.Cache.SweepInterval <= 0 {
		c.Cache.SweepInterval = DefaultSweepInterval
	}
	if c.Render.Timeout <= 0 {
		c.Render.Timeout = DefaultRenderTimeout
	}
	if c.Enabled == nil {
		c.Enabled = map[string]bool{}
	}
	if c.Retry.Mode == "" {
		c.Retry.Mode = RetryBackoffExponential
	}
	if c.Retry.Initial <= 0 {
		c.Retry.Initial = time.Second
	}
	if c.Retry.Max <= 0 {
		c.Retry.Max = 30 * time.Second
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 3
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if NormalizeRetryBackoff(string(c.Retry.Mode)) == "" {
		return ferrors.ValidationError("invalid retry mode").
			WithContext("mode", string(c.Retry.Mode)).
			Build()
	}
	if c.Retry.Max < c.Retry.Initial {
		return ferrors.ValidationError("retry max must be >= initial").Build()
	}
	return nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string { return c.path }

// BaseDir returns the directory holding the configuration file. The render
// cache and relative paths are anchored there.
func (c *Config) BaseDir() string {
	if c.path == "" {
		return "."
	}
	return filepath.Dir(c.path)
}

// SetPath sets the file Save writes to.
func (c *Config) SetPath(path string) { c.path = path }

// PluginEnabled reports whether name is switched on in the enabled map.
func (c *Config) PluginEnabled(name string) bool {
	return c.Enabled[name]
}

// Save writes the configuration back to its path atomically.
func (c *Config) Save() error {
	if c.path == "" {
		return ferrors.ConfigError("config has no path to save to").Build()
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "failed to encode config").Build()
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o750); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create config directory").
			WithContext("path", c.path).
			Build()
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".config-*.yaml")
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create temp config").Build()
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to write config").Build()
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to write config").Build()
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		_ = os.Remove(tmpName)
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to replace config").
			WithContext("path", c.path).
			Build()
	}
	return nil
}
