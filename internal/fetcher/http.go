package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/publicsuffix"

	"github.com/scrapeforge/harvester/internal/config"
	"github.com/scrapeforge/harvester/internal/hostpolicy"
	"github.com/scrapeforge/harvester/internal/metrics"
	"github.com/scrapeforge/harvester/internal/robots"
	"github.com/scrapeforge/harvester/internal/types"
)

// hopByHopHeaders are stripped from responses per spec.md §4.B "Response
// hygiene (for proxy-style callers)".
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailer", "Transfer-Encoding", "Upgrade", "Set-Cookie",
}

// HTTPFetcher implements Fetcher using net/http, generalizing the teacher's
// internal/fetcher/http.go HTTPFetcher from a single always-follow client
// into the spec's per-attempt protocol: breaker check, token acquisition,
// manual guarded redirects, and Outcome classification in place of the
// teacher's FetchError/retryable-bool return.
type HTTPFetcher struct {
	client   *http.Client
	guard    *guard
	robots   *robots.Checker
	hosts    *hostpolicy.Registry
	metrics  *metrics.Metrics
	httpCfg  config.HTTPConfig
	fetchCfg config.FetchConfig
	logger   *slog.Logger

	uaIndex atomic.Int64
}

// NewHTTPFetcher wires a fetcher against the Host Policy Registry, a robots
// checker, and a metrics sink, all constructed once at startup and injected
// rather than reached for as globals (spec.md §9 "explicitly constructed
// registry").
func NewHTTPFetcher(cfg *config.Config, hosts *hostpolicy.Registry, robotsChecker *robots.Checker, m *metrics.Metrics, logger *slog.Logger) *HTTPFetcher {
	robotsChecker.SetHostPolicy(hosts)
	guard := newGuard(cfg.Fetch.Denylist, time.Duration(cfg.Fetch.DNSCacheTTLSec)*time.Second)

	transport := &http.Transport{
		MaxIdleConns:        cfg.Fetch.MaxIdleConns,
		MaxIdleConnsPerHost: maxInt(1, cfg.Fetch.MaxIdleConns/2),
		IdleConnTimeout:     cfg.Fetch.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{},
		DisableCompression:  true, // decompression handled manually, brotli included
		DialContext:         guardedDialContext(guard),
	}

	// A public-suffix-aware jar lets the client carry session cookies across
	// requests to the same registrable domain (e.g. a consent cookie needed
	// before pagination works), without leaking them cross-site. The
	// Response handed back to callers still has Set-Cookie stripped — see
	// hopByHopHeaders — so this is purely internal client state.
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		jar = nil
	}

	client := &http.Client{
		Transport: transport,
		Jar:       jar,
		// Redirects are followed manually by Fetch so every hop can be
		// re-guarded against SSRF/rebind; see spec.md §4.B "Redirect handling".
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &HTTPFetcher{
		client:   client,
		guard:    guard,
		robots:   robotsChecker,
		hosts:    hosts,
		metrics:  m,
		httpCfg:  cfg.HTTP,
		fetchCfg: cfg.Fetch,
		logger:   logger.With("component", "fetcher"),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// guardedDialContext wraps net.Dialer.DialContext so the address the
// transport is actually about to connect to is re-verified against g before
// the connect() syscall runs. Dialer.Control fires after Go's resolver has
// turned addr's hostname into a literal IP but before that IP is dialed,
// which is exactly where a DNS answer that flipped public->private between
// Fetch's own guard.check and this dial needs to be caught (spec.md §4.B
// rebind guard; mirrors the teacher's connection-pinning guard in
// internal/fetcher/ssrf.go, generalized from a fixed dial target to
// per-request hostnames).
func guardedDialContext(g *guard) func(ctx context.Context, network, addr string) (net.Conn, error) {
	base := &net.Dialer{Timeout: 10 * time.Second}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		d := *base
		d.Control = func(_, address string, _ syscall.RawConn) error {
			ipStr, _, err := net.SplitHostPort(address)
			if err != nil {
				ipStr = address
			}
			return g.recheckConnect(host, net.ParseIP(ipStr))
		}
		return d.DialContext(ctx, network, addr)
	}
}

// Close releases idle connections.
func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// Fetch implements the per-attempt protocol of spec.md §4.B.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, opts types.FetchOptions) types.Outcome {
	if reason, ok := opts.Validate(); !ok {
		return types.NewValidation(reason)
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return types.NewValidation(fmt.Sprintf("url %q must be absolute http/https", rawURL))
	}
	host := normalizeHost(u)

	if !f.robots.Allowed(rawURL) {
		return types.NewBlocked("robots.txt disallows this path")
	}
	if err := f.guard.check(ctx, u.Hostname()); err != nil {
		return types.NewBlocked(err.Error())
	}

	maxRetries := opts.MaxRetries
	baseBackoff := time.Duration(f.httpCfg.BaseBackoffMs) * time.Millisecond
	maxBackoff := time.Duration(f.httpCfg.MaxBackoffMs) * time.Millisecond

	var last types.Outcome
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return types.NewTimeout("context cancelled before attempt")
		}

		policy := f.hosts.Get(host)

		if err := policy.Breaker.Allow(); err != nil {
			return types.NewCircuitOpen()
		}

		waited, err := policy.Limiter.Wait(ctx)
		if err != nil {
			return types.NewTimeout("rate limiter wait exceeded deadline")
		}
		if waited >= time.Millisecond {
			f.metrics.RateLimitWaits.WithLabelValues(host).Inc()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		outcome := f.attempt(attemptCtx, u, opts)
		cancel()

		failure, applicable := outcome.CountsTowardBreaker()
		if applicable {
			policy.Breaker.Done(!failure)
		}
		f.recordMetrics(host, outcome)

		last = outcome
		if !outcome.IsRetryable() || attempt == maxRetries {
			return outcome
		}

		delay := f.retryDelay(outcome, attempt, baseBackoff, maxBackoff)
		f.metrics.RetriesTotal.WithLabelValues(host, outcome.Kind.String()).Inc()
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return types.NewTimeout("context cancelled during retry backoff")
		case <-timer.C:
		}
	}
	return last
}

func (f *HTTPFetcher) retryDelay(outcome types.Outcome, attempt int, base, max time.Duration) time.Duration {
	if outcome.Kind == types.OutcomeRateLimited && outcome.RetryAfter > 0 {
		return clamp(outcome.RetryAfter, base, max)
	}
	return backoffDelay(attempt, base, max, f.httpCfg.JitterFactor)
}

// attempt performs one underlying HTTP call including manual, re-guarded
// redirect following, and classifies the result into an Outcome.
func (f *HTTPFetcher) attempt(ctx context.Context, u *url.URL, opts types.FetchOptions) types.Outcome {
	current := *u
	start := time.Now()

	for hop := 0; ; hop++ {
		if hop > f.fetchCfg.MaxRedirects {
			return types.NewTooManyRedirects()
		}

		f.metrics.ActiveRequests.Inc()
		resp, err := f.roundTrip(ctx, &current, opts)
		f.metrics.ActiveRequests.Dec()

		if err != nil {
			var blocked *blockedError
			if errors.As(err, &blocked) {
				return types.NewBlocked(blocked.Error())
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return types.NewTimeout(err.Error())
			}
			return types.NewNetworkError(err, isRetryableError(err))
		}

		if resp.IsRedirect() {
			loc := resp.Headers.Get("Location")
			next, parseErr := current.Parse(loc)
			if parseErr != nil || loc == "" {
				return types.NewServerError(resp, resp.StatusCode)
			}
			if f.fetchCfg.BlockDowngrade && current.Scheme == "https" && next.Scheme == "http" {
				return types.NewBlocked("redirect downgrades https to http")
			}
			if err := f.guard.check(ctx, next.Hostname()); err != nil {
				return types.NewBlocked(err.Error())
			}
			current = *next
			continue
		}

		resp.FetchDuration = time.Since(start)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter, ok := parseRetryAfter(resp.Headers.Get("Retry-After"))
			var ra time.Duration
			if ok {
				ra = retryAfter
			}
			return types.NewRateLimited(ra)
		case resp.IsServerError():
			return types.NewServerError(resp, resp.StatusCode)
		case resp.IsClientError():
			return types.NewClientError(resp, resp.StatusCode)
		default:
			return types.NewSuccess(resp)
		}
	}
}

// roundTrip performs one non-redirect-following HTTP call and assembles a
// types.Response, applying body size caps and manual decompression the way
// the teacher's Fetch does.
func (f *HTTPFetcher) roundTrip(ctx context.Context, u *url.URL, opts types.FetchOptions) (*types.Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if len(opts.Body) > 0 {
		bodyReader = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", f.nextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for k, vs := range opts.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	httpResp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	maxBytes := f.fetchCfg.MaxBodyBytes
	var reader io.Reader = httpResp.Body
	if maxBytes > 0 {
		reader = io.LimitReader(reader, maxBytes)
	}
	reader, err = decompressReader(httpResp, reader)
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	resp := &types.Response{
		StatusCode:    httpResp.StatusCode,
		Headers:       httpResp.Header,
		Body:          body,
		FinalURL:      u.String(),
		ContentType:   httpResp.Header.Get("Content-Type"),
		ContentLength: int64(len(body)),
		FetchedAt:     time.Now(),
	}
	stripHopByHop(resp.Headers)
	return resp, nil
}

func stripHopByHop(h http.Header) {
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
}

func (f *HTTPFetcher) nextUserAgent() string {
	agents := f.fetchCfg.UserAgents
	if len(agents) == 0 {
		return "harvester/" + config.Version
	}
	idx := f.uaIndex.Add(1) % int64(len(agents))
	return agents[idx]
}

func (f *HTTPFetcher) recordMetrics(host string, o types.Outcome) {
	class := "n/a"
	switch {
	case o.Response != nil:
		class = metrics.StatusClass(o.Response.StatusCode)
	case o.StatusCode > 0:
		class = metrics.StatusClass(o.StatusCode)
	}
	f.metrics.RequestsTotal.WithLabelValues(host, class).Inc()
	if o.Response != nil {
		f.metrics.ResponseTimeSec.WithLabelValues(host).Observe(o.Response.FetchDuration.Seconds())
	}
	switch o.Kind {
	case types.OutcomeTimeout:
		f.metrics.Timeouts.WithLabelValues(host).Inc()
	case types.OutcomeCircuitOpen:
		f.metrics.Deferrals.WithLabelValues(host, "circuit_open").Inc()
	}
}

// normalizeHost lowercases the host and strips a default port, per spec.md
// §4.A "Hostnames are normalized lowercase, with port stripped unless
// non-default."
func normalizeHost(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		return host
	}
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		return host
	}
	return net.JoinHostPort(host, port)
}

// decompressReader wraps a reader with the appropriate decompressor,
// carried over from the teacher's http.go (gzip/deflate/brotli).
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

// isRetryableError classifies a transport error, carried over from the
// teacher's isRetryableError.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) || errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
	}
	return false
}
