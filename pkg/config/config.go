package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"usenetstreamer/pkg/env"
	"usenetstreamer/pkg/logger"
	"usenetstreamer/pkg/paths"
)

// Config holds application configuration
type Config struct {
	// Addon settings
	AddonPort     int    `json:"addon_port"`
	AddonBaseURL  string `json:"addon_base_url"`
	LogLevel      string `json:"log_level"`
	SecurityToken string `json:"security_token"`

	// NZBDav queue API
	NZBDavURL    string `json:"nzbdav_url"`
	NZBDavAPIKey string `json:"nzbdav_api_key"`

	// Categories the queue files jobs under
	CategoryMovies  string `json:"category_movies"`
	CategorySeries  string `json:"category_series"`
	CategoryDefault string `json:"category_default"`

	// WebDAV file server (defaults to NZBDavURL)
	WebDAVURL  string `json:"webdav_url"`
	WebDAVUser string `json:"webdav_user"`
	WebDAVPass string `json:"webdav_pass"`
	WebDAVRoot string `json:"webdav_root"`

	// Timing, all in milliseconds
	PollIntervalMS   int `json:"poll_interval_ms"`
	PollTimeoutMS    int `json:"poll_timeout_ms"`
	APITimeoutMS     int `json:"api_timeout_ms"`
	HistoryTimeoutMS int `json:"history_timeout_ms"`
	StreamTimeoutMS  int `json:"stream_timeout_ms"`

	// Stream cache TTL; 0 disables time-based expiry
	CacheTTLMinutes int `json:"cache_ttl_minutes"`

	HistoryFetchLimit   int     `json:"history_fetch_limit"`
	MaxDirectoryDepth   int     `json:"max_directory_depth"`
	SubmitRatePerSecond float64 `json:"submit_rate_per_second"`
	StreamHighWaterMark int     `json:"stream_high_water_mark"`

	FailureVideoPath string `json:"failure_video_path"`

	// Optional shared cache backend
	RedisURL string `json:"redis_url"`

	// Internal - where was this config loaded from?
	LoadedPath string `json:"-"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		AddonPort:           7000,
		AddonBaseURL:        "http://localhost:7000",
		LogLevel:            "INFO",
		CategoryMovies:      "Movies",
		CategorySeries:      "Tv",
		CategoryDefault:     "Movies",
		WebDAVRoot:          "/",
		PollIntervalMS:      2000,
		PollTimeoutMS:       80000,
		APITimeoutMS:        80000,
		HistoryTimeoutMS:    60000,
		StreamTimeoutMS:     240000,
		CacheTTLMinutes:     60,
		HistoryFetchLimit:   400,
		MaxDirectoryDepth:   6,
		SubmitRatePerSecond: 2,
		StreamHighWaterMark: 1024 * 1024,
		FailureVideoPath:    paths.FailureVideoPath(),
	}
}

// Load is intended for startup only. It loads configuration from config.json,
// applies environment variable overrides once, then saves the merged config.
// Priority: Environment variables (if not empty) > config.json > defaults
func Load() (*Config, error) {
	dataDir := paths.GetDataDir()
	configPath := filepath.Join(dataDir, "config.json")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		logger.Warn("Failed to create data directory", "dir", dataDir, "err", err)
	}

	cfg := Default()
	cfg.LoadedPath = configPath

	if err := cfg.LoadFile(configPath); err != nil {
		if os.IsNotExist(err) {
			logger.Info("No config found, creating new one", "path", configPath)
		} else {
			logger.Warn("Failed to load config, using defaults", "path", configPath, "err", err)
		}
	} else {
		logger.Info("Loaded configuration", "path", configPath)
	}

	overrides, keys := env.ReadConfigOverrides()
	ApplyEnvOverrides(cfg, overrides, keys)
	cfg.applyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.Save(); err != nil {
		logger.Warn("Failed to save config on startup", "err", err)
	} else {
		logger.Debug("Saved merged configuration", "path", configPath)
	}

	if cfg.SecurityToken == "" {
		logger.Warn("SECURITY_TOKEN is not set. Stream endpoints are reachable without a path token")
	}

	return cfg, nil
}

// LoadFile overrides config with values from a JSON file
func (c *Config) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(c)
}

// applyFallbacks fills values that are derived from other settings.
func (c *Config) applyFallbacks() {
	c.NZBDavURL = strings.TrimRight(strings.TrimSpace(c.NZBDavURL), "/")
	if strings.TrimSpace(c.WebDAVURL) == "" {
		c.WebDAVURL = c.NZBDavURL
	}
	c.WebDAVURL = strings.TrimRight(strings.TrimSpace(c.WebDAVURL), "/")
	if c.CategoryDefault == "" {
		c.CategoryDefault = c.CategoryMovies
	}
	if c.FailureVideoPath == "" {
		c.FailureVideoPath = paths.FailureVideoPath()
	}
}

// Validate reports settings that make the proxy unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.NZBDavURL == "" {
		errs = append(errs, errors.New("NZBDAV_URL is required"))
	} else if _, err := url.ParseRequestURI(c.NZBDavURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid NZBDAV_URL %q: %w", c.NZBDavURL, err))
	}
	if c.WebDAVURL != "" {
		if _, err := url.ParseRequestURI(c.WebDAVURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid NZBDAV_WEBDAV_URL %q: %w", c.WebDAVURL, err))
		}
	}
	if c.AddonPort <= 0 || c.AddonPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid addon port %d", c.AddonPort))
	}
	if c.PollIntervalMS <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.PollTimeoutMS < c.PollIntervalMS {
		errs = append(errs, errors.New("poll timeout must be at least one poll interval"))
	}
	if c.MaxDirectoryDepth < 0 {
		errs = append(errs, errors.New("max directory depth cannot be negative"))
	}
	return errors.Join(errs...)
}

// CategoryFor maps a content type onto the queue category.
func (c *Config) CategoryFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "series", "tv":
		return c.CategorySeries
	case "movie":
		return c.CategoryMovies
	default:
		return c.CategoryDefault
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMS) * time.Millisecond
}

func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.APITimeoutMS) * time.Millisecond
}

func (c *Config) HistoryTimeout() time.Duration {
	return time.Duration(c.HistoryTimeoutMS) * time.Millisecond
}

func (c *Config) StreamTimeout() time.Duration {
	return time.Duration(c.StreamTimeoutMS) * time.Millisecond
}

// CacheTTL returns the stream cache TTL; zero means entries never expire.
func (c *Config) CacheTTL() time.Duration {
	if c.CacheTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// Save saves the current configuration to the file it was loaded from
func (c *Config) Save() error {
	path := c.LoadedPath
	if path == "" {
		path = "config.json"
	}
	return c.SaveFile(path)
}

// SaveFile saves the current configuration to a JSON file
func (c *Config) SaveFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(c)
}

// keySet returns true if s is in list.
func keySet(list []string, s string) bool {
	for _, k := range list {
		if k == s {
			return true
		}
	}
	return false
}

// ApplyEnvOverrides applies environment-derived overrides to cfg (used at startup only).
// Only fields present in keys are applied, so env vars override file values per setting.
func ApplyEnvOverrides(cfg *Config, o env.ConfigOverrides, keys []string) {
	setStr := func(key string, dst *string, v string) {
		if keySet(keys, key) {
			*dst = v
		}
	}
	setInt := func(key string, dst *int, v int) {
		if keySet(keys, key) {
			*dst = v
		}
	}

	setInt(env.KeyAddonPort, &cfg.AddonPort, o.AddonPort)
	setStr(env.KeyAddonBaseURL, &cfg.AddonBaseURL, o.AddonBaseURL)
	setStr(env.KeyLogLevel, &cfg.LogLevel, o.LogLevel)
	setStr(env.KeySecurityToken, &cfg.SecurityToken, o.SecurityToken)
	setStr(env.KeyNZBDavURL, &cfg.NZBDavURL, o.NZBDavURL)
	setStr(env.KeyNZBDavAPIKey, &cfg.NZBDavAPIKey, o.NZBDavAPIKey)
	setStr(env.KeyCategoryMovies, &cfg.CategoryMovies, o.CategoryMovies)
	setStr(env.KeyCategorySeries, &cfg.CategorySeries, o.CategorySeries)
	setStr(env.KeyCategoryDefault, &cfg.CategoryDefault, o.CategoryDefault)
	setStr(env.KeyWebDAVURL, &cfg.WebDAVURL, o.WebDAVURL)
	setStr(env.KeyWebDAVUser, &cfg.WebDAVUser, o.WebDAVUser)
	setStr(env.KeyWebDAVPass, &cfg.WebDAVPass, o.WebDAVPass)
	setStr(env.KeyWebDAVRoot, &cfg.WebDAVRoot, o.WebDAVRoot)
	setInt(env.KeyPollIntervalMS, &cfg.PollIntervalMS, o.PollIntervalMS)
	setInt(env.KeyPollTimeoutMS, &cfg.PollTimeoutMS, o.PollTimeoutMS)
	setInt(env.KeyAPITimeoutMS, &cfg.APITimeoutMS, o.APITimeoutMS)
	setInt(env.KeyHistoryTimeoutMS, &cfg.HistoryTimeoutMS, o.HistoryTimeoutMS)
	setInt(env.KeyStreamTimeoutMS, &cfg.StreamTimeoutMS, o.StreamTimeoutMS)
	setInt(env.KeyCacheTTLMinutes, &cfg.CacheTTLMinutes, o.CacheTTLMinutes)
	setInt(env.KeyHistoryLimit, &cfg.HistoryFetchLimit, o.HistoryLimit)
	setInt(env.KeyMaxDepth, &cfg.MaxDirectoryDepth, o.MaxDepth)
	setInt(env.KeyHighWaterMark, &cfg.StreamHighWaterMark, o.HighWaterMark)
	setStr(env.KeyFailureVideo, &cfg.FailureVideoPath, o.FailureVideoPath)
	setStr(env.KeyRedisURL, &cfg.RedisURL, o.RedisURL)
	if keySet(keys, env.KeySubmitRate) {
		cfg.SubmitRatePerSecond = o.SubmitRate
	}
}

// GetEnvOverrideKeys returns config JSON keys that have environment variable overrides set.
func GetEnvOverrideKeys() []string {
	return env.OverrideKeys()
}
