package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLoginURL is the central iGEM login endpoint
	DefaultLoginURL = "https://igem.org/Login2"

	// DefaultLoginSuccessMarker is the text shown after a successful login
	DefaultLoginSuccessMarker = "successfully logged in"

	defaultSyncMap    = "upload_map.yml"
	defaultCookieFile = "wikisync.cookies"
	defaultAssetRoot  = "assets"
	defaultTimeout    = 30 * time.Second
	defaultDebounce   = 2 * time.Second
	defaultUserAgent  = "wikisync"
)

// Config represents the complete wikisync configuration
type Config struct {
	Team     string      `yaml:"team"`
	Year     int         `yaml:"year"`
	SrcDir   string      `yaml:"src_dir"`
	BuildDir string      `yaml:"build_dir"`
	Assets   []string    `yaml:"assets"`
	State    StateConfig `yaml:"state"`
	Wiki     WikiConfig  `yaml:"wiki"`
	Watch    WatchConfig `yaml:"watch"`

	// Dir is the directory the configuration was loaded from
	Dir string `yaml:"-"`
}

// StateConfig configures where run-to-run state is persisted
type StateConfig struct {
	SyncMap    string `yaml:"sync_map"`
	CookieFile string `yaml:"cookie_file"`
}

// WikiConfig configures the remote wiki endpoints
type WikiConfig struct {
	BaseURL            string        `yaml:"base_url"`
	LoginURL           string        `yaml:"login_url"`
	LoginSuccessMarker string        `yaml:"login_success_marker"`
	Timeout            time.Duration `yaml:"timeout"`
	UserAgent          string        `yaml:"user_agent"`
}

// WatchConfig configures watch mode
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Load reads and parses the configuration file. Relative paths in the file
// are resolved against the directory containing it.
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	cfg.Dir = filepath.Dir(absPath)
	cfg.resolvePaths(cfg.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Team = os.ExpandEnv(c.Team)
	c.SrcDir = os.ExpandEnv(c.SrcDir)
	c.BuildDir = os.ExpandEnv(c.BuildDir)
	for i := range c.Assets {
		c.Assets[i] = os.ExpandEnv(c.Assets[i])
	}
	c.State.SyncMap = os.ExpandEnv(c.State.SyncMap)
	c.State.CookieFile = os.ExpandEnv(c.State.CookieFile)
	c.Wiki.BaseURL = os.ExpandEnv(c.Wiki.BaseURL)
	c.Wiki.LoginURL = os.ExpandEnv(c.Wiki.LoginURL)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if len(c.Assets) == 0 {
		c.Assets = []string{defaultAssetRoot}
	}
	if c.State.SyncMap == "" {
		c.State.SyncMap = defaultSyncMap
	}
	if c.State.CookieFile == "" {
		c.State.CookieFile = defaultCookieFile
	}
	if c.Wiki.BaseURL == "" && c.Year > 0 {
		c.Wiki.BaseURL = fmt.Sprintf("https://%d.igem.org", c.Year)
	}
	c.Wiki.BaseURL = strings.TrimRight(c.Wiki.BaseURL, "/")
	if c.Wiki.LoginURL == "" {
		c.Wiki.LoginURL = DefaultLoginURL
	}
	if c.Wiki.LoginSuccessMarker == "" {
		c.Wiki.LoginSuccessMarker = DefaultLoginSuccessMarker
	}
	if c.Wiki.Timeout == 0 {
		c.Wiki.Timeout = defaultTimeout
	}
	if c.Wiki.UserAgent == "" {
		c.Wiki.UserAgent = defaultUserAgent
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = defaultDebounce
	}
}

// resolvePaths makes every relative path absolute against baseDir
func (c *Config) resolvePaths(baseDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	c.SrcDir = abs(c.SrcDir)
	c.BuildDir = abs(c.BuildDir)
	c.State.SyncMap = abs(c.State.SyncMap)
	c.State.CookieFile = abs(c.State.CookieFile)
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Team == "" {
		return fmt.Errorf("team is required")
	}
	if c.Year <= 0 {
		return fmt.Errorf("year is required and must be positive")
	}

	// Validate paths
	if c.SrcDir == "" {
		return fmt.Errorf("src_dir is required")
	}
	if c.BuildDir == "" {
		return fmt.Errorf("build_dir is required")
	}
	// The build directory is emptied on every run
	if within(c.SrcDir, c.BuildDir) {
		return fmt.Errorf("build_dir must not be or contain src_dir: %s", c.BuildDir)
	}
	if c.State.SyncMap != "" && within(c.State.SyncMap, c.BuildDir) {
		return fmt.Errorf("state.sync_map must not be inside build_dir: %s", c.State.SyncMap)
	}
	if c.State.CookieFile != "" && within(c.State.CookieFile, c.BuildDir) {
		return fmt.Errorf("state.cookie_file must not be inside build_dir: %s", c.State.CookieFile)
	}

	if c.Wiki.BaseURL == "" {
		return fmt.Errorf("wiki.base_url is required")
	}
	if c.Wiki.Timeout < 0 {
		return fmt.Errorf("wiki.timeout must not be negative: %s", c.Wiki.Timeout)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative: %s", c.Watch.Debounce)
	}

	return nil
}

// SingleAssetRoot reports whether exactly one asset root is configured. Asset
// upload filenames drop their leading directory in that case.
func (c *Config) SingleAssetRoot() bool {
	return len(c.Assets) == 1
}

// EnvFilePath returns the optional .env file next to the configuration
func (c *Config) EnvFilePath() string {
	return filepath.Join(c.Dir, ".env")
}

// within reports whether path is dir or lies below it. Paths must both be
// absolute or both be relative to the same directory.
func within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
