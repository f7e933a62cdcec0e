package normalizer

import (
	"fmt"
	"net/url"
	"strings"
)

// wwwAction is one of the three ways §4.C's "toggle www" / "apex-domain
// variant" steps can rewrite a host.
type wwwAction int

const (
	wwwUnchanged wwwAction = iota
	wwwAdd
	wwwStrip
)

// GenerateVariants produces the deterministic, ordered candidate list for
// Canonicalize per spec.md §4.C: HTTPS upgrade, www toggle, apex-domain
// (www-stripped), and trailing-slash toggle, combined and deduplicated with
// the original input dropped, capped at maxVariants. Invalid input returns
// an empty list (spec.md: "Invalid inputs return an empty list").
func GenerateVariants(rawURL string, maxVariants int) []string {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil
	}

	schemeOptions := []string{u.Scheme}
	if u.Scheme == "http" {
		schemeOptions = append(schemeOptions, "https")
	}

	wwwOptions := []wwwAction{wwwUnchanged}
	if strings.HasPrefix(strings.ToLower(u.Hostname()), "www.") {
		wwwOptions = append(wwwOptions, wwwStrip)
	} else {
		wwwOptions = append(wwwOptions, wwwAdd)
	}

	slashOptions := []bool{false}
	if u.Path != "" && u.Path != "/" {
		slashOptions = append(slashOptions, true)
	}

	seen := make(map[string]struct{})
	var out []string
	original := u.String()
	seen[original] = struct{}{}

	for _, scheme := range schemeOptions {
		for _, www := range wwwOptions {
			for _, toggleSlash := range slashOptions {
				candidate := applyVariant(u, scheme, www, toggleSlash)
				s := candidate.String()
				if _, dup := seen[s]; dup {
					continue
				}
				seen[s] = struct{}{}
				out = append(out, s)
				if maxVariants > 0 && len(out) >= maxVariants {
					return out
				}
			}
		}
	}
	return out
}

func applyVariant(u *url.URL, scheme string, www wwwAction, toggleSlash bool) *url.URL {
	v := *u
	v.Scheme = scheme

	host := v.Hostname()
	port := v.Port()
	lowerHost := strings.ToLower(host)
	switch www {
	case wwwAdd:
		if !strings.HasPrefix(lowerHost, "www.") {
			host = "www." + host
		}
	case wwwStrip:
		if strings.HasPrefix(lowerHost, "www.") {
			host = host[len("www."):]
		}
	}
	if port != "" {
		v.Host = fmt.Sprintf("%s:%s", host, port)
	} else {
		v.Host = host
	}

	if toggleSlash && v.Path != "" && v.Path != "/" {
		if strings.HasSuffix(v.Path, "/") {
			v.Path = strings.TrimRight(v.Path, "/")
			if v.Path == "" {
				v.Path = "/"
			}
		} else {
			v.Path = v.Path + "/"
		}
	}
	return &v
}

// originPathKey groups every variant of the same origin+path family under
// one cache entry, per spec.md §4.C "subsequent calls for any variant of the
// same origin-path return the cached result".
func originPathKey(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	path := u.Path
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		path = "/"
	}
	return host + path, true
}
