package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.HTTP.DeadlineMs < 100 || cfg.HTTP.DeadlineMs > 30000 {
		return fmt.Errorf("http.deadline_ms must be in [100,30000], got %d", cfg.HTTP.DeadlineMs)
	}
	if cfg.HTTP.MaxRetries < 0 || cfg.HTTP.MaxRetries > 10 {
		return fmt.Errorf("http.max_retries must be in [0,10], got %d", cfg.HTTP.MaxRetries)
	}
	if cfg.HTTP.BaseBackoffMs <= 0 {
		return fmt.Errorf("http.base_backoff_ms must be > 0")
	}
	if cfg.HTTP.MaxBackoffMs < cfg.HTTP.BaseBackoffMs {
		return fmt.Errorf("http.max_backoff_ms must be >= base_backoff_ms")
	}
	if cfg.HTTP.JitterFactor < 0 || cfg.HTTP.JitterFactor > 1 {
		return fmt.Errorf("http.jitter_factor must be in [0,1], got %f", cfg.HTTP.JitterFactor)
	}
	if cfg.HTTP.CircuitBreakerThreshold < 1 {
		return fmt.Errorf("http.circuit_breaker_threshold must be >= 1")
	}
	if cfg.HTTP.CircuitBreakerResetMs <= 0 {
		return fmt.Errorf("http.circuit_breaker_reset_ms must be > 0")
	}
	if cfg.HTTP.CircuitBreakerHalfOpenN < 1 {
		return fmt.Errorf("http.circuit_breaker_half_open_max_calls must be >= 1")
	}
	if cfg.HTTP.MaxConcurrency < 1 || cfg.HTTP.MaxConcurrency > 1000 {
		return fmt.Errorf("http.max_concurrency must be in [1,1000], got %d", cfg.HTTP.MaxConcurrency)
	}
	if cfg.HTTP.RateLimitPerSec <= 0 {
		return fmt.Errorf("http.rate_limit_per_sec must be > 0")
	}
	if cfg.HTTP.RateLimitBurst < 1 {
		return fmt.Errorf("http.rate_limit_burst must be >= 1")
	}

	for _, h := range cfg.Hosts {
		if h.Host == "" {
			return fmt.Errorf("hosts[]: host must not be empty")
		}
		if h.RPS <= 0 {
			return fmt.Errorf("hosts[%s].rps must be > 0", h.Host)
		}
		if h.Burst < 1 {
			return fmt.Errorf("hosts[%s].burst must be >= 1", h.Host)
		}
	}

	if cfg.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0")
	}
	if cfg.Fetch.MaxRedirects < 0 || cfg.Fetch.MaxRedirects > 10 {
		return fmt.Errorf("fetch.max_redirects must be in [0,10], got %d", cfg.Fetch.MaxRedirects)
	}
	if cfg.Fetch.DNSCacheTTLSec < 0 {
		return fmt.Errorf("fetch.dns_cache_ttl_sec must be >= 0")
	}
	if len(cfg.Fetch.UserAgents) == 0 {
		return fmt.Errorf("fetch.user_agents must not be empty")
	}

	if cfg.Batch.MaxURLs < 1 {
		return fmt.Errorf("batch.max_urls must be >= 1, got %d", cfg.Batch.MaxURLs)
	}
	if cfg.Batch.MaxURLLength < 1 {
		return fmt.Errorf("batch.max_url_length must be >= 1")
	}
	if cfg.Batch.Concurrency < 1 {
		return fmt.Errorf("batch.concurrency must be >= 1, got %d", cfg.Batch.Concurrency)
	}
	if cfg.Batch.MaxRetries < 0 {
		return fmt.Errorf("batch.max_retries must be >= 0")
	}
	if cfg.Batch.MaxErrorSamples < 0 {
		return fmt.Errorf("batch.max_error_samples must be >= 0")
	}
	if cfg.Batch.GracefulShutdownMs < 0 {
		return fmt.Errorf("batch.graceful_shutdown_ms must be >= 0")
	}

	validStorageTypes := map[string]bool{"memory": true, "mongo": true}
	if !validStorageTypes[cfg.Storage.Type] {
		return fmt.Errorf("storage.type %q is not supported (valid: memory, mongo)", cfg.Storage.Type)
	}
	if cfg.Storage.Type == "mongo" && cfg.Storage.MongoURI == "" {
		return fmt.Errorf("storage.mongo_uri is required when storage.type is mongo")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}
	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port must be 1-65535, got %d", cfg.API.Port)
	}

	return nil
}

// ValidateURL checks if a URL string is valid for fetching and rejects the
// non-http(s) schemes the Resilient Fetcher refuses to dial.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
