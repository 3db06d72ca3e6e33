package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultBaseURL    = "https://gemini.google.com"
	DefaultUploadURL  = "https://push.clients6.google.com/upload/"
	DefaultBuildLabel = "boq_assistant-bard-web-server_20241209.00_p0"
)

type Config struct {
	Server      ServerConfig      `toml:"server"`
	Upstream    UpstreamConfig    `toml:"upstream"`
	Session     SessionConfig     `toml:"session"`
	Media       MediaConfig       `toml:"media"`
	Parse       ParseConfig       `toml:"parse"`
	Credentials CredentialsConfig `toml:"credentials"`
	Log         LogConfig         `toml:"log"`
}

type ServerConfig struct {
	Port         string `toml:"port"`
	APIKey       string `toml:"api_key"`
	AdminAPIKey  string `toml:"admin_api_key"`
	MediaBaseURL string `toml:"media_base_url"`
}

type UpstreamConfig struct {
	BaseURL        string         `toml:"base_url"`
	UploadURL      string         `toml:"upload_url"`
	Locale         string         `toml:"locale"`
	BuildLabel     string         `toml:"build_label"`
	TimeoutSeconds int            `toml:"timeout_seconds"`
	MaxAttempts    int            `toml:"max_attempts"`
	BackoffSeconds int            `toml:"backoff_seconds"`
	Models         []string       `toml:"models"`
	ModelIDs       ModelIDsConfig `toml:"model_ids"`
}

// ModelIDsConfig holds the opaque ids sent in the model-selection header.
type ModelIDsConfig struct {
	Flash    string `toml:"flash"`
	Pro      string `toml:"pro"`
	Thinking string `toml:"thinking"`
}

type SessionConfig struct {
	TimeoutMinutes     int    `toml:"timeout_minutes"`
	ResendSystemPrompt bool   `toml:"resend_system_prompt"`
	Store              string `toml:"store"`
	BoltPath           string `toml:"bolt_path"`
	RedisAddr          string `toml:"redis_addr"`
	RedisPassword      string `toml:"redis_password"`
	RedisDB            int    `toml:"redis_db"`
	RedisTTLHours      int    `toml:"redis_ttl_hours"`
}

type MediaConfig struct {
	CacheDir               string `toml:"cache_dir"`
	MaxAgeHours            int    `toml:"max_age_hours"`
	SweepSchedule          string `toml:"sweep_schedule"`
	MinBytes               int    `toml:"min_bytes"`
	DownloadTimeoutSeconds int    `toml:"download_timeout_seconds"`
	Parallelism            int    `toml:"parallelism"`
}

// ParseConfig toggles the response heuristics. Both reflect observed upstream
// behaviour rather than a documented contract.
type ParseConfig struct {
	LongestTextWins bool `toml:"longest_text_wins"`
	PreferCleanCopy bool `toml:"prefer_clean_copy"`
}

type CredentialsConfig struct {
	Source         string `toml:"source"`
	Path           string `toml:"path"`
	RefreshMinutes int    `toml:"refresh_minutes"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "9880",
		},
		Upstream: UpstreamConfig{
			BaseURL:        DefaultBaseURL,
			UploadURL:      DefaultUploadURL,
			Locale:         "zh-CN",
			BuildLabel:     DefaultBuildLabel,
			TimeoutSeconds: 60,
			MaxAttempts:    3,
			BackoffSeconds: 2,
			Models: []string{
				"gemini-3.0-flash",
				"gemini-3.0-flash-thinking",
				"gemini-3.0-pro",
			},
			ModelIDs: ModelIDsConfig{
				Flash:    "56fdd199312815e2",
				Pro:      "e6fa609c3fa255c0",
				Thinking: "e051ce1aa80aa576",
			},
		},
		Session: SessionConfig{
			TimeoutMinutes: 30,
			Store:          "memory",
			RedisAddr:      "127.0.0.1:6379",
			RedisTTLHours:  24,
		},
		Media: MediaConfig{
			MaxAgeHours:            1,
			SweepSchedule:          "@every 10m",
			MinBytes:               100,
			DownloadTimeoutSeconds: 60,
			Parallelism:            4,
		},
		Parse: ParseConfig{
			LongestTextWins: true,
			PreferCleanCopy: true,
		},
		Credentials: CredentialsConfig{
			Source: "file",
		},
		Log: LogConfig{Level: ""},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv("ADMIN_API_KEY"); v != "" {
		c.Server.AdminAPIKey = v
	}
	if v := os.Getenv("MEDIA_BASE_URL"); v != "" {
		c.Server.MediaBaseURL = v
	}
	if v := os.Getenv("SESSION_STORE"); v != "" {
		c.Session.Store = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Session.RedisAddr = v
	}
	if v := os.Getenv("SESSION_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.TimeoutMinutes = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" && c.Log.Level == "" {
		c.Log.Level = v
	}
}

func (c *Config) validate() error {
	for name, raw := range map[string]string{
		"upstream.base_url":   c.Upstream.BaseURL,
		"upstream.upload_url": c.Upstream.UploadURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: %s must be an absolute URL, got %q", name, raw)
		}
	}
	if c.Upstream.MaxAttempts <= 0 {
		return fmt.Errorf("config: upstream.max_attempts must be positive")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: upstream.timeout_seconds must be positive")
	}
	if c.Upstream.BackoffSeconds < 0 {
		return fmt.Errorf("config: upstream.backoff_seconds must not be negative")
	}
	if len(c.Upstream.Models) == 0 {
		return fmt.Errorf("config: upstream.models must list at least one model")
	}
	switch c.Session.Store {
	case "memory", "bolt", "redis":
	default:
		return fmt.Errorf("config: session.store must be one of memory, bolt, redis; got %q", c.Session.Store)
	}
	switch c.Credentials.Source {
	case "file", "env", "keychain":
	default:
		return fmt.Errorf("config: credentials.source must be one of file, env, keychain; got %q", c.Credentials.Source)
	}
	if c.Media.MinBytes < 0 {
		return fmt.Errorf("config: media.min_bytes must not be negative")
	}
	return nil
}

func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

func (c *Config) Backoff() time.Duration {
	return time.Duration(c.Upstream.BackoffSeconds) * time.Second
}

func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutMinutes) * time.Minute
}

func (c *Config) MediaMaxAge() time.Duration {
	return time.Duration(c.Media.MaxAgeHours) * time.Hour
}

func (c *Config) MediaDownloadTimeout() time.Duration {
	return time.Duration(c.Media.DownloadTimeoutSeconds) * time.Second
}

func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Session.RedisTTLHours) * time.Hour
}

func (c *Config) CredentialsRefreshInterval() time.Duration {
	return time.Duration(c.Credentials.RefreshMinutes) * time.Minute
}
