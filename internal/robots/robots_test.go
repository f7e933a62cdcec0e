package robots

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	neturl "net/url"
	"testing"

	"github.com/scrapeforge/harvester/internal/config"
	"github.com/scrapeforge/harvester/internal/hostpolicy"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestAllowedDisabledCheckerAllowsEverything(t *testing.T) {
	c := NewChecker(false)
	if !c.Allowed("http://example.com/private") {
		t.Fatal("disabled checker must allow every path")
	}
}

func TestAllowedMostSpecificRuleWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /articles\nAllow: /articles/public\n"))
	}))
	defer srv.Close()

	c := NewChecker(true)
	if c.Allowed(srv.URL + "/articles/private") {
		t.Fatal("expected /articles/private to be disallowed")
	}
	if !c.Allowed(srv.URL + "/articles/public/page") {
		t.Fatal("expected the more specific Allow rule to win over the shorter Disallow")
	}
}

func TestAllowedUnfetchableRobotsTxtDefaultsAllow(t *testing.T) {
	c := NewChecker(true)
	if !c.Allowed("http://127.0.0.1:1/whatever") {
		t.Fatal("a robots.txt fetch failure must default to allow")
	}
}

func TestCrawlDelayAppliedToHostPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nCrawl-delay: 2\n"))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.HTTP.RateLimitPerSec = 100
	cfg.HTTP.RateLimitBurst = 10
	hosts := hostpolicy.NewRegistry(cfg, discardLogger())
	defer hosts.Close()

	c := NewChecker(true)
	c.SetHostPolicy(hosts)

	if !c.Allowed(srv.URL + "/") {
		t.Fatal("expected fetch to succeed and path to be allowed")
	}

	u, err := neturl.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	rate := hosts.Get(u.Host).Limiter.Rate()
	if rate > 0.5 {
		t.Fatalf("expected Crawl-delay: 2 to cap the refill rate at 0.5/s, got %v", rate)
	}
}

func TestCrawlDelayNeverRaisesAnAlreadyStricterRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nCrawl-delay: 2\n"))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.HTTP.RateLimitPerSec = 0.1 // already slower than the 0.5/s Crawl-delay implies
	cfg.HTTP.RateLimitBurst = 1
	hosts := hostpolicy.NewRegistry(cfg, discardLogger())
	defer hosts.Close()

	c := NewChecker(true)
	c.SetHostPolicy(hosts)
	c.Allowed(srv.URL + "/")

	u, _ := neturl.Parse(srv.URL)
	rate := hosts.Get(u.Host).Limiter.Rate()
	if rate > 0.1 {
		t.Fatalf("expected the stricter configured rate to survive, got %v", rate)
	}
}
