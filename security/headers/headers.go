/*
Package headers builds the standard security headers attached to every
response: content type sniffing protection, frame denial, strict
transport security, referrer and permissions policy, and a content
security policy assembled from source allowlists.
*/
package headers

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	ContentTypeOptionsHeader   = "X-Content-Type-Options"
	FrameOptionsHeader         = "X-Frame-Options"
	XSSProtectionHeader        = "X-XSS-Protection"
	HSTSHeader                 = "Strict-Transport-Security"
	ReferrerPolicyHeader       = "Referrer-Policy"
	PermissionsPolicyHeader    = "Permissions-Policy"
	CSPHeader                  = "Content-Security-Policy"
	CrossDomainPoliciesHeader  = "X-Permitted-Cross-Domain-Policies"
	CrossOriginOpenerHeader    = "Cross-Origin-Opener-Policy"
	CrossOriginResourceHeader  = "Cross-Origin-Resource-Policy"
	defaultHSTSMaxAge          = 365 * 24 * time.Hour
	defaultReferrerPolicy      = "strict-origin-when-cross-origin"
	defaultFrameOptions        = "DENY"
	defaultXSSProtection       = "1; mode=block"
	defaultCrossOriginPolicy   = "same-origin"
	defaultCrossDomainPolicies = "none"
)

// DefaultDisabledFeatures are the browser features denied by the
// Permissions-Policy header.
var DefaultDisabledFeatures = []string{"camera", "microphone", "geolocation"}

// CSPSources are the allowlisted sources per fetch directive, in
// addition to 'self'.
type CSPSources struct {
	Script  []string `yaml:"script-src"`
	Style   []string `yaml:"style-src"`
	Font    []string `yaml:"font-src"`
	Connect []string `yaml:"connect-src"`
	Img     []string `yaml:"img-src"`
}

// CSP assembles the Content-Security-Policy value. Directives are
// written in a fixed order.
func (s CSPSources) CSP() string {
	directive := func(name string, sources ...string) string {
		return name + " " + strings.Join(sources, " ")
	}

	self := func(extra []string) []string {
		return append([]string{"'self'"}, extra...)
	}

	return strings.Join([]string{
		directive("default-src", "'self'"),
		directive("script-src", self(s.Script)...),
		directive("style-src", self(s.Style)...),
		directive("font-src", self(s.Font)...),
		directive("img-src", self(append([]string{"data:"}, s.Img...))...),
		directive("connect-src", self(s.Connect)...),
		directive("frame-ancestors", "'none'"),
		directive("base-uri", "'self'"),
		directive("form-action", "'self'"),
		directive("object-src", "'none'"),
	}, "; ")
}

// HSTS configures Strict-Transport-Security.
type HSTS struct {
	MaxAge            time.Duration `yaml:"max-age"`
	IncludeSubdomains bool          `yaml:"include-subdomains"`
	Preload           bool          `yaml:"preload"`
}

func (h HSTS) String() string {
	v := fmt.Sprintf("max-age=%d", int64(h.MaxAge.Seconds()))
	if h.IncludeSubdomains {
		v += "; includeSubDomains"
	}
	if h.Preload {
		v += "; preload"
	}
	return v
}

// Options configure the header set. The zero value of a field selects
// its default.
type Options struct {
	CSP              CSPSources
	HSTS             HSTS
	ReferrerPolicy   string
	DisabledFeatures []string
	// Custom headers are set after the standard ones and may
	// override them.
	Custom map[string]string
}

// Headers is a prebuilt, immutable header set.
type Headers struct {
	h http.Header
}

func permissionsPolicy(features []string) string {
	p := make([]string, len(features))
	for i, f := range features {
		p[i] = f + "=()"
	}
	return strings.Join(p, ", ")
}

func New(o Options) *Headers {
	if o.HSTS.MaxAge <= 0 {
		o.HSTS.MaxAge = defaultHSTSMaxAge
		o.HSTS.IncludeSubdomains = true
	}
	if o.ReferrerPolicy == "" {
		o.ReferrerPolicy = defaultReferrerPolicy
	}
	if o.DisabledFeatures == nil {
		o.DisabledFeatures = DefaultDisabledFeatures
	}

	h := http.Header{}
	h.Set(ContentTypeOptionsHeader, "nosniff")
	h.Set(FrameOptionsHeader, defaultFrameOptions)
	h.Set(XSSProtectionHeader, defaultXSSProtection)
	h.Set(HSTSHeader, o.HSTS.String())
	h.Set(ReferrerPolicyHeader, o.ReferrerPolicy)
	if len(o.DisabledFeatures) > 0 {
		h.Set(PermissionsPolicyHeader, permissionsPolicy(o.DisabledFeatures))
	}
	h.Set(CSPHeader, o.CSP.CSP())
	h.Set(CrossDomainPoliciesHeader, defaultCrossDomainPolicies)
	h.Set(CrossOriginOpenerHeader, defaultCrossOriginPolicy)
	h.Set(CrossOriginResourceHeader, defaultCrossOriginPolicy)

	for k, v := range o.Custom {
		h.Set(k, v)
	}

	return &Headers{h: h}
}

// Header returns a copy of the header set.
func (s *Headers) Header() http.Header {
	return s.h.Clone()
}

// Handler stamps the headers onto every response of next, replacing
// values next set for the same names.
func (s *Headers) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := s.Wrap(w)
		next.ServeHTTP(sw, r)
		sw.Finish()
	})
}

// Wrap returns a Writer stamping the header set onto the response of
// w.
func (s *Headers) Wrap(w http.ResponseWriter) *Writer {
	return NewWriter(w, s.Header())
}
