// Package env consolidates all environment variable reading for the application.
// Config overrides are applied only at startup (see config.Load).
package env

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable names (single source of truth)
const (
	ADDONPort              = "ADDON_PORT"
	ADDONBaseURL           = "ADDON_BASE_URL"
	LOGLevel               = "LOG_LEVEL"
	SecurityTokenVar       = "SECURITY_TOKEN"
	NZBDAVURL              = "NZBDAV_URL"
	NZBDAVAPIKey           = "NZBDAV_API_KEY"
	NZBDAVCategoryMovies   = "NZBDAV_CATEGORY_MOVIES"
	NZBDAVCategorySeries   = "NZBDAV_CATEGORY_SERIES"
	NZBDAVCategoryDefault  = "NZBDAV_CATEGORY_DEFAULT"
	NZBDAVWebDAVURL        = "NZBDAV_WEBDAV_URL"
	NZBDAVWebDAVUser       = "NZBDAV_WEBDAV_USER"
	NZBDAVWebDAVPass       = "NZBDAV_WEBDAV_PASS"
	NZBDAVWebDAVRoot       = "NZBDAV_WEBDAV_ROOT"
	NZBDAVPollIntervalMS   = "NZBDAV_POLL_INTERVAL_MS"
	NZBDAVPollTimeoutMS    = "NZBDAV_POLL_TIMEOUT_MS"
	NZBDAVAPITimeoutMS     = "NZBDAV_API_TIMEOUT_MS"
	NZBDAVHistoryTimeoutMS = "NZBDAV_HISTORY_TIMEOUT_MS"
	NZBDAVStreamTimeoutMS  = "NZBDAV_STREAM_TIMEOUT_MS"
	NZBDAVCacheTTLMinutes  = "NZBDAV_CACHE_TTL_MINUTES"
	NZBDAVHistoryLimit     = "NZBDAV_HISTORY_FETCH_LIMIT"
	NZBDAVMaxDepth         = "NZBDAV_MAX_DIRECTORY_DEPTH"
	NZBDAVSubmitRate       = "NZBDAV_SUBMIT_RATE"
	StreamHighWaterMark    = "STREAM_HIGH_WATER_MARK"
	FailureVideoPathVar    = "FAILURE_VIDEO_PATH"
	RedisURLVar            = "REDIS_URL"
	TZVar                  = "TZ"
	OTELEndpoint           = "OTEL_EXPORTER_OTLP_ENDPOINT"
	OTELSampleRate         = "OTEL_TRACE_SAMPLE_RATE"
)

// Config JSON keys returned by ReadConfigOverrides
const (
	KeyAddonPort        = "addon_port"
	KeyAddonBaseURL     = "addon_base_url"
	KeyLogLevel         = "log_level"
	KeySecurityToken    = "security_token"
	KeyNZBDavURL        = "nzbdav_url"
	KeyNZBDavAPIKey     = "nzbdav_api_key"
	KeyCategoryMovies   = "category_movies"
	KeyCategorySeries   = "category_series"
	KeyCategoryDefault  = "category_default"
	KeyWebDAVURL        = "webdav_url"
	KeyWebDAVUser       = "webdav_user"
	KeyWebDAVPass       = "webdav_pass"
	KeyWebDAVRoot       = "webdav_root"
	KeyPollIntervalMS   = "poll_interval_ms"
	KeyPollTimeoutMS    = "poll_timeout_ms"
	KeyAPITimeoutMS     = "api_timeout_ms"
	KeyHistoryTimeoutMS = "history_timeout_ms"
	KeyStreamTimeoutMS  = "stream_timeout_ms"
	KeyCacheTTLMinutes  = "cache_ttl_minutes"
	KeyHistoryLimit     = "history_fetch_limit"
	KeyMaxDepth         = "max_directory_depth"
	KeySubmitRate       = "submit_rate_per_second"
	KeyHighWaterMark    = "stream_high_water_mark"
	KeyFailureVideo     = "failure_video_path"
	KeyRedisURL         = "redis_url"
)

// TZ returns the TZ environment variable (e.g. for logger timezone).
func TZ() string {
	return os.Getenv(TZVar)
}

// LogLevel returns LOG_LEVEL with default "INFO" (for early logger init before config).
func LogLevel() string {
	if v := os.Getenv(LOGLevel); v != "" {
		return v
	}
	return "INFO"
}

// OTLPEndpoint returns the trace collector endpoint; empty disables tracing.
func OTLPEndpoint() string {
	return strings.TrimSpace(os.Getenv(OTELEndpoint))
}

// TraceSampleRate returns OTEL_TRACE_SAMPLE_RATE in [0,1], defaulting to 0.1.
func TraceSampleRate() float64 {
	raw := strings.TrimSpace(os.Getenv(OTELSampleRate))
	if raw == "" {
		return 0.1
	}
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil || rate < 0 || rate > 1 {
		return 0.1
	}
	return rate
}

// ConfigOverrides holds all config values that can be set via environment variables.
// Only the fields whose key is reported by ReadConfigOverrides were actually set.
type ConfigOverrides struct {
	AddonPort        int
	AddonBaseURL     string
	LogLevel         string
	SecurityToken    string
	NZBDavURL        string
	NZBDavAPIKey     string
	CategoryMovies   string
	CategorySeries   string
	CategoryDefault  string
	WebDAVURL        string
	WebDAVUser       string
	WebDAVPass       string
	WebDAVRoot       string
	PollIntervalMS   int
	PollTimeoutMS    int
	APITimeoutMS     int
	HistoryTimeoutMS int
	StreamTimeoutMS  int
	CacheTTLMinutes  int
	HistoryLimit     int
	MaxDepth         int
	SubmitRate       float64
	HighWaterMark    int
	FailureVideoPath string
	RedisURL         string
}

// ReadConfigOverrides reads all relevant environment variables once and returns
// overrides to apply to config plus the list of config JSON keys that were set.
func ReadConfigOverrides() (ConfigOverrides, []string) {
	var o ConfigOverrides
	var keys []string

	str := func(name, key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
			keys = append(keys, key)
		}
	}
	num := func(name, key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
				keys = append(keys, key)
			}
		}
	}

	num(ADDONPort, KeyAddonPort, &o.AddonPort)
	str(ADDONBaseURL, KeyAddonBaseURL, &o.AddonBaseURL)
	str(LOGLevel, KeyLogLevel, &o.LogLevel)
	str(SecurityTokenVar, KeySecurityToken, &o.SecurityToken)
	str(NZBDAVURL, KeyNZBDavURL, &o.NZBDavURL)
	str(NZBDAVAPIKey, KeyNZBDavAPIKey, &o.NZBDavAPIKey)
	str(NZBDAVCategoryMovies, KeyCategoryMovies, &o.CategoryMovies)
	str(NZBDAVCategorySeries, KeyCategorySeries, &o.CategorySeries)
	str(NZBDAVCategoryDefault, KeyCategoryDefault, &o.CategoryDefault)
	str(NZBDAVWebDAVURL, KeyWebDAVURL, &o.WebDAVURL)
	str(NZBDAVWebDAVUser, KeyWebDAVUser, &o.WebDAVUser)
	str(NZBDAVWebDAVPass, KeyWebDAVPass, &o.WebDAVPass)
	str(NZBDAVWebDAVRoot, KeyWebDAVRoot, &o.WebDAVRoot)
	num(NZBDAVPollIntervalMS, KeyPollIntervalMS, &o.PollIntervalMS)
	num(NZBDAVPollTimeoutMS, KeyPollTimeoutMS, &o.PollTimeoutMS)
	num(NZBDAVAPITimeoutMS, KeyAPITimeoutMS, &o.APITimeoutMS)
	num(NZBDAVHistoryTimeoutMS, KeyHistoryTimeoutMS, &o.HistoryTimeoutMS)
	num(NZBDAVStreamTimeoutMS, KeyStreamTimeoutMS, &o.StreamTimeoutMS)
	num(NZBDAVCacheTTLMinutes, KeyCacheTTLMinutes, &o.CacheTTLMinutes)
	num(NZBDAVHistoryLimit, KeyHistoryLimit, &o.HistoryLimit)
	num(NZBDAVMaxDepth, KeyMaxDepth, &o.MaxDepth)
	num(StreamHighWaterMark, KeyHighWaterMark, &o.HighWaterMark)
	str(FailureVideoPathVar, KeyFailureVideo, &o.FailureVideoPath)
	str(RedisURLVar, KeyRedisURL, &o.RedisURL)

	if v := strings.TrimSpace(os.Getenv(NZBDAVSubmitRate)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			o.SubmitRate = f
			keys = append(keys, KeySubmitRate)
		}
	}

	return o, keys
}

// OverrideKeys returns the config JSON keys that have environment overrides set.
func OverrideKeys() []string {
	_, keys := ReadConfigOverrides()
	return keys
}
