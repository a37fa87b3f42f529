package server

import (
	"net/http"
	"net/url"
	"strings"
)

// originPolicy decides which browser origins may open credentialed
// requests and websocket connections.
type originPolicy struct {
	allowed map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		if normalized := normalizeOrigin(origin); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}
	return originPolicy{allowed: allowed}
}

func (p originPolicy) allows(origin string) bool {
	_, ok := p.allowed[normalizeOrigin(origin)]
	return ok
}

// allowsHandshake accepts clients that send no Origin, same-host pages and
// configured origins.
func (p originPolicy) allowsHandshake(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if p.allows(origin) {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}

func normalizeOrigin(origin string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(origin)), "/")
}
