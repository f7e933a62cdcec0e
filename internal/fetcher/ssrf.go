package fetcher

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"
)

// resolution is a cached DNS answer for one host, used both to block SSRF
// targets pre-dial and to detect rebind attempts between resolve and
// connect (spec.md §4.B "SSRF + DNS-rebind guard").
type resolution struct {
	addrs   []net.IP
	at      time.Time
}

// guard resolves hostnames, classifies addresses as private/public, and
// caches the result with a short TTL so a rebind between resolve-time and
// connect-time is detectable (spec.md's Open Question on rebind semantics is
// pinned here to exact-match suffix denylist plus RFC1918/loopback/link-local
// classification, with no port distinction).
type guard struct {
	denylistSuffixes []string
	ttl              time.Duration
	resolver         func(ctx context.Context, host string) ([]net.IP, error)

	mu    sync.Mutex
	cache map[string]resolution
}

func newGuard(denylist []string, ttl time.Duration) *guard {
	g := &guard{
		denylistSuffixes: denylist,
		ttl:              ttl,
		cache:            make(map[string]resolution),
	}
	g.resolver = g.defaultResolve
	return g
}

func (g *guard) defaultResolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	return net.DefaultResolver.LookupIP(ctx, "ip", host)
}

// check resolves host (using the cache when fresh) and returns an error
// describing why the destination is blocked, or nil if it's safe to dial.
// denylistSuffix is checked before DNS resolution since it needs no
// network activity.
func (g *guard) check(ctx context.Context, host string) error {
	if g.matchesDenylist(host) {
		return errBlocked("host matches configured denylist suffix")
	}

	addrs, err := g.resolve(ctx, host)
	if err != nil {
		return err
	}
	for _, ip := range addrs {
		if isPrivate(ip) {
			return errBlocked("resolved address " + ip.String() + " is in a private/internal range")
		}
	}
	return nil
}

// recheckConnect compares the address actually dialed against the cached
// resolution for host, invalidating the cache and blocking on a
// public→private rebind (spec.md "DNS answer flipping ... between resolve
// and connect ... blocked as rebind").
func (g *guard) recheckConnect(host string, connected net.IP) error {
	private := isPrivate(connected)
	g.mu.Lock()
	matched := false
	for _, ip := range g.cache[host].addrs {
		if ip.Equal(connected) {
			matched = true
			break
		}
	}
	if !matched || private {
		delete(g.cache, host)
	}
	g.mu.Unlock()
	if private {
		return errBlocked("connect-time address " + connected.String() + " is private (dns rebind)")
	}
	return nil
}

func (g *guard) resolve(ctx context.Context, host string) ([]net.IP, error) {
	g.mu.Lock()
	r, ok := g.cache[host]
	g.mu.Unlock()
	if ok && time.Since(r.at) < g.ttl {
		return r.addrs, nil
	}

	addrs, err := g.resolver(ctx, host)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.cache[host] = resolution{addrs: addrs, at: time.Now()}
	g.mu.Unlock()
	return addrs, nil
}

func (g *guard) matchesDenylist(host string) bool {
	host = strings.ToLower(host)
	for _, suffix := range g.denylistSuffixes {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix == "" {
			continue
		}
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	switch host {
	case "localhost", "metadata.google.internal", "169.254.169.254":
		return true
	}
	return false
}

// isPrivate classifies loopback, link-local, RFC1918/ULA, and IPv4-mapped
// private addresses as unsafe to dial.
func isPrivate(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	} else if ip.IsLoopback() {
		return true
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() || ip.IsPrivate() {
		return true
	}
	return false
}

type blockedError struct{ reason string }

func (e *blockedError) Error() string { return e.reason }

func errBlocked(reason string) error { return &blockedError{reason: reason} }
