package realtime

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// originPolicy mirrors the browser Origin allowlist.
type originPolicy struct {
	required bool
	allowed  []string
	// patterns feed websocket.AcceptOptions.OriginPatterns so the library's own
	// cross-origin check agrees with the allowlist. The library matches them
	// against host[:port], hence the extra "host:*" entries.
	patterns []string
}

func newOriginPolicy(required bool, allowed []string) originPolicy {
	clean := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if a = strings.TrimSpace(a); a != "" {
			clean = append(clean, a)
		}
	}
	return originPolicy{
		required: required,
		allowed:  clean,
		patterns: originPatterns(clean),
	}
}

func (p originPolicy) check(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if p.required {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(p.allowed) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	host := originHost(origin)
	for _, a := range p.allowed {
		if a == "*" || a == origin {
			return nil
		}
		if host != "" && host == originHost(a) {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// originHost lowercases the host of a URL or host[:port] string, port removed.
func originHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func originPatterns(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if a == "*" {
			return []string{"*"}
		}
		h := originHost(a)
		if h == "" || slices.Contains(out, h) {
			continue
		}
		out = append(out, h, h+":*")
	}
	slices.Sort(out)
	return out
}
