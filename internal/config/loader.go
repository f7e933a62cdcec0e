package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from defaults, the config file and the environment;
// CLI flags are not read here.
// Priority (highest to lowest): well-known env vars > HARVESTER_-prefixed env
// vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("harvester")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".harvester"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyWellKnownEnv(cfg)
	applyHostOverrideEnv(cfg)

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

// setDefaults registers default values in viper so a config file or env
// overlay only needs to specify the fields it changes.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("http.deadline_ms", cfg.HTTP.DeadlineMs)
	v.SetDefault("http.max_retries", cfg.HTTP.MaxRetries)
	v.SetDefault("http.base_backoff_ms", cfg.HTTP.BaseBackoffMs)
	v.SetDefault("http.max_backoff_ms", cfg.HTTP.MaxBackoffMs)
	v.SetDefault("http.jitter_factor", cfg.HTTP.JitterFactor)
	v.SetDefault("http.circuit_breaker_threshold", cfg.HTTP.CircuitBreakerThreshold)
	v.SetDefault("http.circuit_breaker_reset_ms", cfg.HTTP.CircuitBreakerResetMs)
	v.SetDefault("http.circuit_breaker_half_open_max_calls", cfg.HTTP.CircuitBreakerHalfOpenN)
	v.SetDefault("http.max_concurrency", cfg.HTTP.MaxConcurrency)
	v.SetDefault("http.rate_limit_per_sec", cfg.HTTP.RateLimitPerSec)
	v.SetDefault("http.rate_limit_burst", cfg.HTTP.RateLimitBurst)
	v.SetDefault("http.idle_eviction_seconds", cfg.HTTP.IdleEvictionSeconds)

	v.SetDefault("fetch.max_body_bytes", cfg.Fetch.MaxBodyBytes)
	v.SetDefault("fetch.max_redirects", cfg.Fetch.MaxRedirects)
	v.SetDefault("fetch.block_downgrade", cfg.Fetch.BlockDowngrade)
	v.SetDefault("fetch.denylist", cfg.Fetch.Denylist)
	v.SetDefault("fetch.dns_cache_ttl_sec", cfg.Fetch.DNSCacheTTLSec)
	v.SetDefault("fetch.idle_conn_timeout", cfg.Fetch.IdleConnTimeout)
	v.SetDefault("fetch.max_idle_conns", cfg.Fetch.MaxIdleConns)
	v.SetDefault("fetch.user_agents", cfg.Fetch.UserAgents)

	v.SetDefault("batch.max_urls", cfg.Batch.MaxURLs)
	v.SetDefault("batch.max_url_length", cfg.Batch.MaxURLLength)
	v.SetDefault("batch.concurrency", cfg.Batch.Concurrency)
	v.SetDefault("batch.max_retries", cfg.Batch.MaxRetries)
	v.SetDefault("batch.base_backoff", cfg.Batch.BaseBackoff)
	v.SetDefault("batch.max_backoff", cfg.Batch.MaxBackoff)
	v.SetDefault("batch.max_error_samples", cfg.Batch.MaxErrorSamples)
	v.SetDefault("batch.graceful_shutdown_ms", cfg.Batch.GracefulShutdownMs)
	v.SetDefault("batch.memory_warn_threshold_mb", cfg.Batch.MemoryWarnThresholdMB)
	v.SetDefault("batch.tracking_query_params", cfg.Batch.TrackingQueryParams)

	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.mongo_uri", cfg.Storage.MongoURI)
	v.SetDefault("storage.database", cfg.Storage.Database)
	v.SetDefault("storage.log_path", cfg.Storage.LogPath)
	v.SetDefault("storage.retain_for", cfg.Storage.RetainFor)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	v.SetDefault("api.port", cfg.API.Port)
}

// applyWellKnownEnv applies the literal env var names spelled out in
// spec.md §6 (HTTP_DEADLINE_MS, FETCH_URL_MAX_REDIRECTS, ...), which bypass
// viper's dotted-key convention entirely.
func applyWellKnownEnv(cfg *Config) {
	ints := map[string]*int{
		"HTTP_DEADLINE_MS":                        &cfg.HTTP.DeadlineMs,
		"HTTP_MAX_RETRIES":                         &cfg.HTTP.MaxRetries,
		"HTTP_BASE_BACKOFF_MS":                     &cfg.HTTP.BaseBackoffMs,
		"HTTP_MAX_BACKOFF_MS":                      &cfg.HTTP.MaxBackoffMs,
		"HTTP_CIRCUIT_BREAKER_THRESHOLD":           &cfg.HTTP.CircuitBreakerThreshold,
		"HTTP_CIRCUIT_BREAKER_RESET_MS":            &cfg.HTTP.CircuitBreakerResetMs,
		"HTTP_CIRCUIT_BREAKER_HALF_OPEN_MAX_CALLS": &cfg.HTTP.CircuitBreakerHalfOpenN,
		"HTTP_MAX_CONCURRENCY":                     &cfg.HTTP.MaxConcurrency,
		"FETCH_URL_MAX_REDIRECTS":                  &cfg.Fetch.MaxRedirects,
	}
	for key, dst := range ints {
		if raw, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(raw); err == nil {
				*dst = n
			}
		}
	}

	floats := map[string]*float64{
		"HTTP_JITTER_FACTOR":      &cfg.HTTP.JitterFactor,
		"HTTP_RATE_LIMIT_PER_SEC": &cfg.HTTP.RateLimitPerSec,
	}
	for key, dst := range floats {
		if raw, ok := os.LookupEnv(key); ok {
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				*dst = f
			}
		}
	}

	if raw, ok := os.LookupEnv("FETCH_URL_MAX_BYTES"); ok {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.Fetch.MaxBodyBytes = n
		}
	}
	if raw, ok := os.LookupEnv("FETCH_URL_BLOCK_DOWNGRADE"); ok {
		cfg.Fetch.BlockDowngrade = raw == "1" || strings.EqualFold(raw, "true")
	}
	if raw, ok := os.LookupEnv("FETCH_URL_DENYLIST"); ok && raw != "" {
		cfg.Fetch.Denylist = strings.Split(raw, ",")
	}

	// Hard ceilings named in spec.md §6, applied regardless of source.
	if cfg.HTTP.DeadlineMs > 30000 {
		cfg.HTTP.DeadlineMs = 30000
	}
	if cfg.Fetch.MaxRedirects > 10 {
		cfg.Fetch.MaxRedirects = 10
	}
}

// applyHostOverrideEnv scans the process environment for
// HOST_LIMIT__<host>__RPS / HOST_LIMIT__<host>__BURST pairs (spec.md §6)
// and folds them into cfg.Hosts, replacing any file-based entry for that
// host.
func applyHostOverrideEnv(cfg *Config) {
	byHost := make(map[string]*HostOverride, len(cfg.Hosts))
	for i := range cfg.Hosts {
		byHost[cfg.Hosts[i].Host] = &cfg.Hosts[i]
	}

	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], "HOST_LIMIT__") {
			continue
		}
		rest := strings.TrimPrefix(parts[0], "HOST_LIMIT__")
		segs := strings.Split(rest, "__")
		if len(segs) != 2 {
			continue
		}
		hostKey, field := segs[0], segs[1]
		host := strings.NewReplacer("_", ".").Replace(hostKey)

		ov, ok := byHost[host]
		if !ok {
			cfg.Hosts = append(cfg.Hosts, HostOverride{Host: host})
			ov = &cfg.Hosts[len(cfg.Hosts)-1]
			byHost[host] = ov
		}
		switch field {
		case "RPS":
			if f, err := strconv.ParseFloat(parts[1], 64); err == nil {
				ov.RPS = f
			}
		case "BURST":
			if n, err := strconv.Atoi(parts[1]); err == nil {
				ov.Burst = n
			}
		}
	}
}
