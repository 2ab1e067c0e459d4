package auth

import (
	"net/http"
	"strings"
)

// APIPrefix marks routes that answer with JSON instead of redirects.
const APIPrefix = "/api/"

// Policy decides which requests skip the session check.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// NewWebPolicy exempts the login page, health checks and static assets.
func NewWebPolicy() Policy {
	return NewDefaultPolicy(
		[]string{"/login", "/healthz", "/metrics", "/favicon.ico"},
		[]string{"/static/"},
	)
}

// IsExempt returns true when a request should skip the session check.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// IsAPI reports whether the request targets a JSON API route.
func (p Policy) IsAPI(r *http.Request) bool {
	return r != nil && strings.HasPrefix(r.URL.Path, APIPrefix)
}
