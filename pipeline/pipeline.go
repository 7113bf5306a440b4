/*
Package pipeline implements the gatekeeping orchestrator, an
http.Handler middleware that runs every API request through the
security filters and the rate limiter before it reaches the wrapped
handler.

The stages run in this order, the first rejection ends the request:

	prechecks   address blocklist, lookup probes, method, body size,
	            content type
	origin      declared origin against host and allowlist
	csrf        session token, state changing methods only
	input       injection patterns, requests with a body only
	ratelimit   quota of the route policy, skipped for bypassed callers

Requests rejected by a stage before the rate limiter do not consume
quota. Security headers are stamped onto every response, rate limit
headers onto every response of a rate limited request. Values the
wrapped handler sets for the same names are replaced.
*/
package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"go4.org/netipx"

	"github.com/dojopool/gatekeeper/logging"
	"github.com/dojopool/gatekeeper/metrics"
	"github.com/dojopool/gatekeeper/net"
	"github.com/dojopool/gatekeeper/ratelimit"
	"github.com/dojopool/gatekeeper/security/csrf"
	"github.com/dojopool/gatekeeper/security/headers"
	"github.com/dojopool/gatekeeper/security/input"
	"github.com/dojopool/gatekeeper/security/origin"
)

const (
	DefaultPathPrefix    = "/api/"
	DefaultCSRFTokenPath = "/api/csrf-token"
	DefaultMaxBodySize   = 10 << 20

	// DecisionField is the access log field carrying the decision.
	DecisionField = "gatekeeper.decision"

	decisionAllowed  = "allowed"
	decisionBypassed = "bypassed"
)

var (
	DefaultMethods = []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodOptions,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
	}

	DefaultContentTypes = []string{
		"application/json",
		"application/x-www-form-urlencoded",
		"multipart/form-data",
	}
)

// Bypasser exempts requests from rate limiting.
type Bypasser interface {
	Bypass(*http.Request) bool
}

// Options configure the pipeline. Stages with a nil component are
// skipped.
type Options struct {
	Limiter *ratelimit.Limiter
	Bypass  Bypasser
	Origin  *origin.Validator
	CSRF    *csrf.Service
	Input   *input.Filter
	Headers *headers.Headers

	// BlockedAddrs are rejected before any other stage.
	BlockedAddrs *netipx.IPSet
	// Addr returns the client address matched against
	// BlockedAddrs, defaults to net.RemoteAddr
	Addr func(*http.Request) netip.Addr

	// Methods defaults to DefaultMethods
	Methods []string
	// ContentTypes allowed for bodies of state changing requests,
	// defaults to DefaultContentTypes
	ContentTypes []string
	// MaxBodySize defaults to DefaultMaxBodySize
	MaxBodySize int64

	// PathPrefix selects the gated requests, defaults to
	// DefaultPathPrefix
	PathPrefix string
	// CSRFTokenPath serves new CSRF tokens when CSRF is set,
	// defaults to DefaultCSRFTokenPath
	CSRFTokenPath string
	// SecureCookies sets the Secure attribute of the session and
	// token cookies
	SecureCookies bool

	Metrics metrics.Metrics
	Log     logging.Logger
}

// Pipeline is the gatekeeping orchestrator.
type Pipeline struct {
	limiter       *ratelimit.Limiter
	bypass        Bypasser
	origin        *origin.Validator
	csrf          *csrf.Service
	input         *input.Filter
	headers       *headers.Headers
	blocked       *netipx.IPSet
	addr          func(*http.Request) netip.Addr
	methods       map[string]bool
	allow         string
	contentTypes  map[string]bool
	maxBodySize   int64
	prefix        string
	tokenPath     string
	secureCookies bool
	metrics       metrics.Metrics
	log           logging.Logger
}

func New(o Options) *Pipeline {
	p := &Pipeline{
		limiter:       o.Limiter,
		bypass:        o.Bypass,
		origin:        o.Origin,
		csrf:          o.CSRF,
		input:         o.Input,
		headers:       o.Headers,
		blocked:       o.BlockedAddrs,
		addr:          o.Addr,
		maxBodySize:   o.MaxBodySize,
		prefix:        o.PathPrefix,
		tokenPath:     o.CSRFTokenPath,
		secureCookies: o.SecureCookies,
		metrics:       o.Metrics,
		log:           o.Log,
	}

	if p.addr == nil {
		p.addr = net.RemoteAddr
	}
	if p.maxBodySize <= 0 {
		p.maxBodySize = DefaultMaxBodySize
	}
	if p.prefix == "" {
		p.prefix = DefaultPathPrefix
	}
	if p.tokenPath == "" {
		p.tokenPath = DefaultCSRFTokenPath
	}
	if p.metrics == nil {
		p.metrics = metrics.Default
	}
	if p.log == nil {
		p.log = &logging.DefaultLog{}
	}

	methods := o.Methods
	if len(methods) == 0 {
		methods = DefaultMethods
	}
	p.methods = make(map[string]bool, len(methods))
	for _, m := range methods {
		p.methods[strings.ToUpper(m)] = true
	}
	p.allow = strings.ToUpper(strings.Join(methods, ", "))

	contentTypes := o.ContentTypes
	if len(contentTypes) == 0 {
		contentTypes = DefaultContentTypes
	}
	p.contentTypes = make(map[string]bool, len(contentTypes))
	for _, ct := range contentTypes {
		p.contentTypes[strings.ToLower(ct)] = true
	}

	return p
}

// Handler wraps next with the pipeline.
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.serve(w, r, next)
	})
}

func (p *Pipeline) writer(w http.ResponseWriter) *headers.Writer {
	if p.headers != nil {
		return p.headers.Wrap(w)
	}
	return headers.NewWriter(w, nil)
}

func (p *Pipeline) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	sw := p.writer(w)
	defer sw.Finish()

	if !strings.HasPrefix(r.URL.Path, p.prefix) {
		next.ServeHTTP(sw, r)
		return
	}

	if p.csrf != nil && r.URL.Path == p.tokenPath {
		next = http.HandlerFunc(p.serveCSRFToken)
	}

	r, bypassed, rj := p.gate(sw, r)
	if rj != nil {
		p.rejected(sw, r, rj)
		return
	}

	if bypassed {
		p.metrics.IncCounter(metrics.KeyBypassed)
		logging.AddAccessField(r.Context(), DecisionField, decisionBypassed)
	} else {
		p.metrics.IncCounter(metrics.KeyAllowed)
		logging.AddAccessField(r.Context(), DecisionField, decisionAllowed)
	}

	next.ServeHTTP(sw, r)
}

func (p *Pipeline) rejected(w http.ResponseWriter, r *http.Request, rj *rejection) {
	p.metrics.IncCounter(fmt.Sprintf(metrics.KeyDecision, rj.reason))
	logging.AddAccessField(r.Context(), DecisionField, rj.reason.String())

	if rj.cause != nil {
		p.log.Debugf("Rejected %s %s: %s: %v", r.Method, r.URL.Path, rj.reason, rj.cause)
	} else {
		p.log.Debugf("Rejected %s %s: %s", r.Method, r.URL.Path, rj.reason)
	}

	if rj.reason == MethodNotAllowed {
		w.Header().Set("Allow", p.allow)
	}

	writeRejection(w, rj)
}

// gate runs the stages. The returned request carries the sanitized
// body when the input stage rewrote it.
func (p *Pipeline) gate(sw *headers.Writer, r *http.Request) (*http.Request, bool, *rejection) {
	if rj := p.precheck(r); rj != nil {
		return r, false, rj
	}

	body, rj := p.readBody(sw.Unwrap(), r)
	if rj != nil {
		return r, false, rj
	}

	if p.origin != nil && !p.origin.Validate(r) {
		return r, false, reject(OriginRejected, "")
	}

	if rj := p.checkCSRF(r); rj != nil {
		return r, false, rj
	}

	var (
		policy ratelimit.Policy
		key    string
	)
	if p.limiter != nil {
		policy, key = p.limiter.Resolve(r)
	}

	if len(body) > 0 {
		if rj := p.checkInput(r, body, policy); rj != nil {
			return r, false, rj
		}
	}

	if p.limiter == nil {
		return r, false, nil
	}

	if p.bypass != nil && p.bypass.Bypass(r) {
		return r, true, nil
	}

	return r, false, p.checkRateLimit(sw.Stamp(), r, key, policy)
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}

// probed returns true when the request URI or a header carries a JNDI
// lookup.
func probed(r *http.Request) bool {
	if input.LookupProbe(r.RequestURI) {
		return true
	}

	for k, v := range r.Header {
		if input.LookupProbe(k) {
			return true
		}
		for _, vi := range v {
			if input.LookupProbe(vi) {
				return true
			}
		}
	}

	return false
}

func (p *Pipeline) precheck(r *http.Request) *rejection {
	if p.blocked != nil {
		if addr := p.addr(r); addr.IsValid() && p.blocked.Contains(addr) {
			return reject(AddressBlocked, "")
		}
	}

	if probed(r) {
		return reject(InputRejected, "")
	}

	if !p.methods[r.Method] {
		return reject(MethodNotAllowed, "")
	}

	if r.ContentLength > p.maxBodySize {
		return reject(BodyTooLarge, "")
	}

	if !csrf.Safe(r.Method) && hasBody(r) {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || !p.allowedContentType(mediaType) {
			return reject(UnsupportedMediaType, "")
		}
	}

	return nil
}

// allowedContentType accepts the structured syntax suffix +json, like
// application/merge-patch+json, when application/json is allowed.
func (p *Pipeline) allowedContentType(mediaType string) bool {
	mediaType = strings.ToLower(mediaType)
	if p.contentTypes[mediaType] {
		return true
	}
	return strings.HasSuffix(mediaType, "+json") && p.contentTypes["application/json"]
}

// readBody buffers the body for the input stage and enforces the size
// limit for bodies of unknown length. Without an input stage, the
// body is only wrapped in a size limit.
func (p *Pipeline) readBody(w http.ResponseWriter, r *http.Request) ([]byte, *rejection) {
	if !hasBody(r) {
		return nil, nil
	}

	limited := http.MaxBytesReader(w, r.Body, p.maxBodySize)
	if p.input == nil {
		r.Body = limited
		return nil, nil
	}

	body, err := io.ReadAll(limited)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, reject(BodyTooLarge, "")
		}
		return nil, &rejection{reason: MalformedBody, cause: err}
	}

	setBody(r, body)
	return body, nil
}

func setBody(r *http.Request, body []byte) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	if r.Header.Get("Content-Length") != "" {
		r.Header.Set("Content-Length", strconv.Itoa(len(body)))
	}
}

func (p *Pipeline) checkCSRF(r *http.Request) *rejection {
	if p.csrf == nil {
		return nil
	}

	err := p.csrf.Check(r.Context(), r)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, csrf.ErrMissingSession), errors.Is(err, csrf.ErrMissingToken), errors.Is(err, csrf.ErrInvalidToken):
		return &rejection{reason: CSRFRejected, cause: err}
	default:
		return &rejection{reason: StoreUnavailable, cause: err}
	}
}

func (p *Pipeline) checkInput(r *http.Request, body []byte, policy ratelimit.Policy) *rejection {
	if p.input == nil {
		return nil
	}

	contentType := r.Header.Get("Content-Type")
	res, err := p.input.Body(contentType, body)
	if err != nil {
		return &rejection{reason: MalformedBody, cause: err}
	}

	if res.Valid {
		return nil
	}

	if policy.RejectInput || !input.Sanitizable(contentType) {
		return &rejection{reason: InputRejected, cause: fmt.Errorf("rule %s", res.Rule)}
	}

	p.log.Debugf("Sanitized body of %s %s, rule %s", r.Method, r.URL.Path, res.Rule)
	setBody(r, []byte(res.Sanitized))
	return nil
}

func (p *Pipeline) checkRateLimit(stamp http.Header, r *http.Request, key string, policy ratelimit.Policy) *rejection {
	d, err := p.limiter.CheckKey(r.Context(), key, policy)
	ratelimit.SetHeaders(stamp, d)

	if d.Allowed {
		return nil
	}

	if d.Degraded {
		return &rejection{reason: StoreUnavailable, cause: err}
	}

	return &rejection{
		reason:     RateLimited,
		message:    fmt.Sprintf("Rate limit exceeded, retry in %d seconds", d.RetryAfter),
		retryAfter: d.RetryAfter,
	}
}
