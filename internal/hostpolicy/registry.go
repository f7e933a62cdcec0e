// Package hostpolicy implements the Host Policy Registry (spec.md §4.A):
// per-host rate limiting and circuit breaking, with an explicit-override
// resolution order falling back to a shared default policy.
package hostpolicy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/scrapeforge/harvester/internal/config"
)

// Policy is the resolved set of controls for one host.
type Policy struct {
	Host    string
	Limiter *TokenBucket
	Breaker *Breaker
}

type entry struct {
	policy     *Policy
	lastUsedAt time.Time
}

// Registry creates and caches a Policy per host, applying cfg.Hosts
// overrides where present and cfg.HTTP defaults otherwise, and evicts
// policies idle past cfg.HTTP.IdleEvictionSeconds the way the teacher's
// autoCheckpoint goroutine runs a background ticker against engine state.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]*entry
	defaults config.HTTPConfig
	overrides map[string]config.HostOverride
	logger   *slog.Logger

	idleAfter time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewRegistry builds a Registry from the resolved Config and starts its idle
// sweeper goroutine.
func NewRegistry(cfg *config.Config, logger *slog.Logger) *Registry {
	overrides := make(map[string]config.HostOverride, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		overrides[h.Host] = h
	}
	r := &Registry{
		entries:   make(map[string]*entry),
		defaults:  cfg.HTTP,
		overrides: overrides,
		logger:    logger.With("component", "hostpolicy"),
		idleAfter: time.Duration(cfg.HTTP.IdleEvictionSeconds) * time.Second,
		stopCh:    make(chan struct{}),
	}
	if r.idleAfter > 0 {
		go r.sweepLoop()
	}
	return r
}

// Get returns the Policy for host, creating it on first use. Per spec.md §4.A
// resolution order: explicit per-host override, else the shared default.
func (r *Registry) Get(host string) *Policy {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[host]; ok {
		e.lastUsedAt = time.Now()
		return e.policy
	}

	rps := r.defaults.RateLimitPerSec
	burst := r.defaults.RateLimitBurst
	if ov, ok := r.overrides[host]; ok {
		rps = ov.RPS
		burst = ov.Burst
	}

	policy := &Policy{
		Host:    host,
		Limiter: NewTokenBucket(rps, burst),
		Breaker: NewBreaker(r.defaults.CircuitBreakerThreshold, time.Duration(r.defaults.CircuitBreakerResetMs)*time.Millisecond, r.defaults.CircuitBreakerHalfOpenN),
	}
	r.entries[host] = &entry{policy: policy, lastUsedAt: time.Now()}
	return policy
}

// Wait blocks on the host's token bucket, returning the context error on
// cancellation.
func (r *Registry) Wait(ctx context.Context, host string) (time.Duration, error) {
	return r.Get(host).Limiter.Wait(ctx)
}

// ApplyCrawlDelay folds a robots.txt Crawl-delay for host into its Policy's
// rate limiter, so crawl pacing has exactly one home instead of being split
// between the robots checker and the Host Policy Registry.
func (r *Registry) ApplyCrawlDelay(host string, delay time.Duration) {
	r.Get(host).Limiter.ApplyCrawlDelay(delay)
}

// Close stops the idle sweeper.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.idleAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.idleAfter)
	r.mu.Lock()
	defer r.mu.Unlock()
	for host, e := range r.entries {
		if e.lastUsedAt.Before(cutoff) {
			delete(r.entries, host)
			r.logger.Debug("evicted idle host policy", "host", host)
		}
	}
}

// Snapshot returns the current number of tracked host policies, for tests
// and diagnostics.
func (r *Registry) Snapshot() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
