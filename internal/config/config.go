package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	hfhttp "github.com/ligustah/hfslurp/internal/http"
	"github.com/ligustah/hfslurp/internal/hub"
	"github.com/ligustah/hfslurp/internal/progress"
	"github.com/ligustah/hfslurp/internal/retry"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "HFSLURP_"

// Progress display modes.
const (
	ProgressBar  = "bar"
	ProgressText = "text"
	ProgressNone = "none"
)

// Config defines configuration for the hfslurp CLI.
type Config struct {
	Repo        string
	Revision    string
	RepoType    string
	SaveDir     string
	StateURL    string // gocloud bucket URL for state records; empty means SaveDir
	Endpoint    string
	Workers     int
	NoResume    bool
	Progress    string
	Timeout     time.Duration
	RateLimit   int64 // bytes per second, 0 for unlimited
	MetricsAddr string
	Retry       RetryConfig
	Log         LogConfig
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Mode       string
}

// LogConfig defines logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Revision: "main",
		RepoType: string(hub.RepoTypeModel),
		SaveDir:  ".",
		Endpoint: hub.DefaultEndpoint,
		Workers:  4,
		Progress: ProgressBar,
		Timeout:  30 * time.Second,
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
			Mode:       string(retry.ModeExponential),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	Repo        string          `yaml:"repo"`
	Revision    string          `yaml:"revision"`
	RepoType    string          `yaml:"repo_type"`
	SaveDir     string          `yaml:"save_dir"`
	StateURL    string          `yaml:"state_url"`
	Endpoint    string          `yaml:"endpoint"`
	Workers     int             `yaml:"workers"`
	NoResume    bool            `yaml:"no_resume"`
	Progress    string          `yaml:"progress"`
	Timeout     string          `yaml:"timeout"`
	RateLimit   string          `yaml:"rate_limit"`
	MetricsAddr string          `yaml:"metrics_addr"`
	Retry       yamlRetryConfig `yaml:"retry"`
	Log         LogConfig       `yaml:"log"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
	Mode       string `yaml:"mode"`
}

// Load builds a Config from defaults, the YAML file at path (if non-empty),
// a .env file in the working directory and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := LoadDotEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	override := Config{
		Repo:        yc.Repo,
		Revision:    yc.Revision,
		RepoType:    yc.RepoType,
		SaveDir:     yc.SaveDir,
		StateURL:    yc.StateURL,
		Endpoint:    yc.Endpoint,
		Workers:     yc.Workers,
		NoResume:    yc.NoResume,
		Progress:    yc.Progress,
		MetricsAddr: yc.MetricsAddr,
		Retry: RetryConfig{
			Attempts: yc.Retry.Attempts,
			Mode:     yc.Retry.Mode,
		},
		Log: yc.Log,
	}
	if yc.Timeout != "" {
		if override.Timeout, err = time.ParseDuration(yc.Timeout); err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
	}
	if yc.RateLimit != "" {
		if override.RateLimit, err = progress.ParseBytes(yc.RateLimit); err != nil {
			return Config{}, fmt.Errorf("parse rate_limit: %w", err)
		}
	}
	if yc.Retry.Backoff != "" {
		if override.Retry.Backoff, err = time.ParseDuration(yc.Retry.Backoff); err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
	}
	if yc.Retry.MaxBackoff != "" {
		if override.Retry.MaxBackoff, err = time.ParseDuration(yc.Retry.MaxBackoff); err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
	}

	return cfg.Merge(override), nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the HFSLURP_ prefix.
func (c *Config) LoadFromEnv() error {
	str := map[string]*string{
		"REPO":         &c.Repo,
		"REVISION":     &c.Revision,
		"REPO_TYPE":    &c.RepoType,
		"SAVE_DIR":     &c.SaveDir,
		"STATE_URL":    &c.StateURL,
		"ENDPOINT":     &c.Endpoint,
		"PROGRESS":     &c.Progress,
		"METRICS_ADDR": &c.MetricsAddr,
		"RETRY_MODE":   &c.Retry.Mode,
		"LOG_LEVEL":    &c.Log.Level,
		"LOG_FORMAT":   &c.Log.Format,
	}
	for name, dst := range str {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"WORKERS":        &c.Workers,
		"RETRY_ATTEMPTS": &c.Retry.Attempts,
	}
	for name, dst := range ints {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"TIMEOUT":           &c.Timeout,
		"RETRY_BACKOFF":     &c.Retry.Backoff,
		"RETRY_MAX_BACKOFF": &c.Retry.MaxBackoff,
	}
	for name, dst := range durations {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv(EnvPrefix + "RATE_LIMIT"); v != "" {
		n, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse %sRATE_LIMIT: %w", EnvPrefix, err)
		}
		c.RateLimit = n
	}
	if v := os.Getenv(EnvPrefix + "NO_RESUME"); v != "" {
		c.NoResume = v == "true" || v == "1"
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Repo == "" {
		return errors.New("config: repo is required")
	}
	if c.Revision == "" {
		return errors.New("config: revision is required")
	}
	if _, err := hub.ParseRepoType(c.RepoType); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.Timeout <= 0 {
		return errors.New("config: timeout must be positive")
	}
	if c.RateLimit < 0 {
		return errors.New("config: rate_limit must not be negative")
	}
	switch c.Progress {
	case ProgressBar, ProgressText, ProgressNone:
	default:
		return fmt.Errorf("config: unknown progress mode %q", c.Progress)
	}
	switch retry.Mode(c.Retry.Mode) {
	case retry.ModeFixed, retry.ModeLinear, retry.ModeExponential:
	default:
		return fmt.Errorf("config: unknown retry mode %q", c.Retry.Mode)
	}
	if c.Retry.Backoff <= 0 || c.Retry.MaxBackoff <= 0 {
		return errors.New("config: retry backoff must be positive")
	}
	if c.Retry.Attempts < 1 {
		return errors.New("config: retry.attempts must be at least 1")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	mergeString(&c.Repo, override.Repo)
	mergeString(&c.Revision, override.Revision)
	mergeString(&c.RepoType, override.RepoType)
	mergeString(&c.SaveDir, override.SaveDir)
	mergeString(&c.StateURL, override.StateURL)
	mergeString(&c.Endpoint, override.Endpoint)
	mergeString(&c.Progress, override.Progress)
	mergeString(&c.MetricsAddr, override.MetricsAddr)
	mergeString(&c.Retry.Mode, override.Retry.Mode)
	mergeString(&c.Log.Level, override.Log.Level)
	mergeString(&c.Log.Format, override.Log.Format)
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.NoResume {
		c.NoResume = true
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.RateLimit != 0 {
		c.RateLimit = override.RateLimit
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	return c
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// RetryPolicy returns the backoff policy described by c.
func (c Config) RetryPolicy() retry.Policy {
	return retry.NewPolicy(retry.Mode(c.Retry.Mode), c.Retry.Backoff, c.Retry.MaxBackoff, c.Retry.Attempts)
}

// HTTPOptions returns the HTTP client options described by c.
func (c Config) HTTPOptions() hfhttp.Options {
	opts := hfhttp.DefaultOptions()
	opts.Timeout = c.Timeout
	opts.RateLimit = c.RateLimit
	if c.Workers > opts.MaxIdleConnsPerHost {
		opts.MaxIdleConnsPerHost = c.Workers
	}
	return opts
}
