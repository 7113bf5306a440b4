/*
Package origin validates the declared source of a request.

A request without Origin and Referer header passes. A declared
origin passes when its host equals the host of the request or when it
matches one of the allowed origins. Allowed origins are given as

	https://app.dojopool.com   scheme and host must match
	dojopool.com               host must match, any scheme
	*.dojopool.com             any subdomain, any scheme

Ports are part of the host.
*/
package origin

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	originHeader  = "Origin"
	refererHeader = "Referer"
)

var ErrInvalidAllowedOrigin = errors.New("invalid allowed origin")

type matcher struct {
	scheme string
	host   string
	// wildcard matches subdomains of host
	wildcard bool
}

func (m matcher) match(u *url.URL) bool {
	if m.scheme != "" && m.scheme != u.Scheme {
		return false
	}

	host := strings.ToLower(u.Host)
	if m.wildcard {
		return strings.HasSuffix(host, "."+m.host)
	}
	return host == m.host
}

// Validator accepts or rejects requests by their declared origin.
type Validator struct {
	allowed []matcher
	raw     []string
}

func parseAllowed(s string) (matcher, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return matcher{}, fmt.Errorf("%w: empty", ErrInvalidAllowedOrigin)
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" || (u.Path != "" && u.Path != "/") {
			return matcher{}, fmt.Errorf("%w: %q", ErrInvalidAllowedOrigin, s)
		}
		s = u.Host
		m, err := parseAllowed(s)
		m.scheme = u.Scheme
		return m, err
	}

	if strings.ContainsAny(s, "/?#@ ") {
		return matcher{}, fmt.Errorf("%w: %q", ErrInvalidAllowedOrigin, s)
	}

	if rest, ok := strings.CutPrefix(s, "*."); ok {
		if rest == "" || strings.Contains(rest, "*") {
			return matcher{}, fmt.Errorf("%w: %q", ErrInvalidAllowedOrigin, s)
		}
		return matcher{host: rest, wildcard: true}, nil
	}

	if strings.Contains(s, "*") {
		return matcher{}, fmt.Errorf("%w: %q", ErrInvalidAllowedOrigin, s)
	}

	return matcher{host: s}, nil
}

// New creates a validator trusting the allowed origins in addition
// to same origin requests.
func New(allowed []string) (*Validator, error) {
	v := &Validator{}
	for _, a := range allowed {
		m, err := parseAllowed(a)
		if err != nil {
			return nil, err
		}

		v.allowed = append(v.allowed, m)
		v.raw = append(v.raw, a)
	}

	return v, nil
}

// AllowedOrigins returns the configured allowlist.
func (v *Validator) AllowedOrigins() []string {
	return v.raw
}

// Declared returns the origin declared by the request, the Origin
// header takes precedence over the Referer. It returns false when the
// request declares none.
func Declared(r *http.Request) (*url.URL, bool) {
	s := r.Header.Get(originHeader)
	if s == "" {
		s = r.Header.Get(refererHeader)
	}
	if s == "" {
		return nil, false
	}

	u, err := url.Parse(s)
	if err != nil {
		// unparseable origins are declared but never match
		return &url.URL{}, true
	}
	return u, true
}

// Validate returns false when the request declares an origin that is
// neither its own host nor allowed.
func (v *Validator) Validate(r *http.Request) bool {
	u, ok := Declared(r)
	if !ok {
		return true
	}

	if u.Host == "" {
		return false
	}

	if strings.EqualFold(u.Host, r.Host) {
		return true
	}

	return v.allowedURL(u)
}

// Allowed reports whether an Origin header value matches the
// allowlist. Same origin is not considered.
func (v *Validator) Allowed(o string) bool {
	u, err := url.Parse(o)
	if err != nil || u.Host == "" {
		return false
	}

	return v.allowedURL(u)
}

func (v *Validator) allowedURL(u *url.URL) bool {
	for _, m := range v.allowed {
		if m.match(u) {
			return true
		}
	}

	return false
}
