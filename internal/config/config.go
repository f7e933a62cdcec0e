package config

import (
	"strings"
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for the harvester engine.
type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"    yaml:"http"`
	Fetch   FetchConfig   `mapstructure:"fetch"   yaml:"fetch"`
	Batch   BatchConfig   `mapstructure:"batch"   yaml:"batch"`
	Hosts   []HostOverride `mapstructure:"hosts"  yaml:"hosts"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	API     APIConfig     `mapstructure:"api"     yaml:"api"`
}

// HTTPConfig carries the Host Policy Registry's default policy, applied to
// any host without an explicit override (spec.md §3 "Host Policy").
type HTTPConfig struct {
	DeadlineMs               int     `mapstructure:"deadline_ms"                   yaml:"deadline_ms"`
	MaxRetries               int     `mapstructure:"max_retries"                   yaml:"max_retries"`
	BaseBackoffMs            int     `mapstructure:"base_backoff_ms"               yaml:"base_backoff_ms"`
	MaxBackoffMs             int     `mapstructure:"max_backoff_ms"                yaml:"max_backoff_ms"`
	JitterFactor             float64 `mapstructure:"jitter_factor"                 yaml:"jitter_factor"`
	CircuitBreakerThreshold  int     `mapstructure:"circuit_breaker_threshold"     yaml:"circuit_breaker_threshold"`
	CircuitBreakerResetMs    int     `mapstructure:"circuit_breaker_reset_ms"      yaml:"circuit_breaker_reset_ms"`
	CircuitBreakerHalfOpenN  int     `mapstructure:"circuit_breaker_half_open_max_calls" yaml:"circuit_breaker_half_open_max_calls"`
	MaxConcurrency           int     `mapstructure:"max_concurrency"               yaml:"max_concurrency"`
	RateLimitPerSec          float64 `mapstructure:"rate_limit_per_sec"            yaml:"rate_limit_per_sec"`
	RateLimitBurst           int     `mapstructure:"rate_limit_burst"              yaml:"rate_limit_burst"`
	IdleEvictionSeconds      int     `mapstructure:"idle_eviction_seconds"         yaml:"idle_eviction_seconds"`
}

// HostOverride pins HTTPConfig-shaped values to one host, the explicit half
// of the Host Policy Registry's "explicit per-host config → defaults"
// resolution order (spec.md §4.A).
type HostOverride struct {
	Host string  `mapstructure:"host" yaml:"host"`
	RPS  float64 `mapstructure:"rps"  yaml:"rps"`
	Burst int    `mapstructure:"burst" yaml:"burst"`
}

// FetchConfig controls the Resilient Fetcher's transport-level behavior.
type FetchConfig struct {
	MaxBodyBytes      int64    `mapstructure:"max_body_bytes"      yaml:"max_body_bytes"`
	MaxRedirects      int      `mapstructure:"max_redirects"       yaml:"max_redirects"`
	BlockDowngrade    bool     `mapstructure:"block_downgrade"     yaml:"block_downgrade"`
	Denylist          []string `mapstructure:"denylist"            yaml:"denylist"`
	DNSCacheTTLSec    int      `mapstructure:"dns_cache_ttl_sec"   yaml:"dns_cache_ttl_sec"`
	IdleConnTimeout   time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns      int      `mapstructure:"max_idle_conns"      yaml:"max_idle_conns"`
	UserAgents        []string `mapstructure:"user_agents"         yaml:"user_agents"`
}

// BatchConfig controls the Batch Processor (spec.md §4.D).
type BatchConfig struct {
	MaxURLs                int           `mapstructure:"max_urls"                  yaml:"max_urls"`
	MaxURLLength           int           `mapstructure:"max_url_length"            yaml:"max_url_length"`
	Concurrency            int           `mapstructure:"concurrency"               yaml:"concurrency"`
	MaxRetries             int           `mapstructure:"max_retries"               yaml:"max_retries"`
	BaseBackoff            time.Duration `mapstructure:"base_backoff"              yaml:"base_backoff"`
	MaxBackoff             time.Duration `mapstructure:"max_backoff"               yaml:"max_backoff"`
	MaxErrorSamples        int           `mapstructure:"max_error_samples"         yaml:"max_error_samples"`
	GracefulShutdownMs     int           `mapstructure:"graceful_shutdown_ms"      yaml:"graceful_shutdown_ms"`
	MemoryWarnThresholdMB  int           `mapstructure:"memory_warn_threshold_mb"  yaml:"memory_warn_threshold_mb"`
	TrackingQueryParams    []string      `mapstructure:"tracking_query_params"     yaml:"tracking_query_params"`
}

// StorageConfig controls the injected job store backend.
type StorageConfig struct {
	Type      string `mapstructure:"type"       yaml:"type"` // memory, mongo
	MongoURI  string `mapstructure:"mongo_uri"  yaml:"mongo_uri"`
	Database  string `mapstructure:"database"   yaml:"database"`
	LogPath   string `mapstructure:"log_path"   yaml:"log_path"`
	RetainFor time.Duration `mapstructure:"retain_for" yaml:"retain_for"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// APIConfig controls the job HTTP surface (spec.md §6).
type APIConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// DefaultConfig returns a Config with the defaults named in spec.md §6.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			DeadlineMs:              15000,
			MaxRetries:              3,
			BaseBackoffMs:           200,
			MaxBackoffMs:            30000,
			JitterFactor:            0.2,
			CircuitBreakerThreshold: 5,
			CircuitBreakerResetMs:   30000,
			CircuitBreakerHalfOpenN: 2,
			MaxConcurrency:          8,
			RateLimitPerSec:         2,
			RateLimitBurst:          4,
			IdleEvictionSeconds:     1800,
		},
		Fetch: FetchConfig{
			MaxBodyBytes:    10 * 1024 * 1024,
			MaxRedirects:    5,
			BlockDowngrade:  true,
			DNSCacheTTLSec:  30,
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    100,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			},
		},
		Batch: BatchConfig{
			MaxURLs:               1500,
			MaxURLLength:           2048,
			Concurrency:            10,
			MaxRetries:             3,
			BaseBackoff:            500 * time.Millisecond,
			MaxBackoff:             30 * time.Second,
			MaxErrorSamples:        50,
			GracefulShutdownMs:     10000,
			MemoryWarnThresholdMB:  512,
			TrackingQueryParams:    []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid"},
		},
		Storage: StorageConfig{
			Type:      "memory",
			Database:  "harvester",
			LogPath:   "./harvester.log.jsonl",
			RetainFor: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		API: APIConfig{
			Port: 8080,
		},
	}
}

// hostOverrideEnvKey builds the HOST_LIMIT__<host>__RPS|BURST env var name
// for a given host, per spec.md §6. Dots and hyphens become underscores.
func hostOverrideEnvKey(host, field string) string {
	sanitized := strings.NewReplacer(".", "_", "-", "_").Replace(host)
	return "HOST_LIMIT__" + sanitized + "__" + field
}
