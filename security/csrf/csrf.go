/*
Package csrf issues per session tokens and validates them on state
changing requests.

A token is bound to the session it was issued for and stays valid,
and reusable, until it expires. Issuing a new token for a session
replaces the previous one. Safe methods are never checked.

Clients present the token in the X-CSRF-Token header or in the
csrf-token cookie, and the session in the X-Session-Id header or in
the session-id cookie.
*/
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	mathrand "math/rand/v2"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/dojopool/gatekeeper/logging"
	"github.com/dojopool/gatekeeper/metrics"
)

const (
	TokenHeader   = "X-CSRF-Token"
	TokenCookie   = "csrf-token"
	SessionHeader = "X-Session-Id"
	SessionCookie = "session-id"

	DefaultTokenTTL         = time.Hour
	DefaultSweepProbability = 0.01

	tokenBytes = 32
)

var (
	ErrMissingSession = errors.New("missing session")
	ErrMissingToken   = errors.New("missing csrf token")
	ErrInvalidToken   = errors.New("invalid csrf token")
)

// Options configure a Service.
type Options struct {
	// Store keeps the tokens, defaults to a MemoryTokenStore
	Store TokenStore
	// TokenTTL defaults to DefaultTokenTTL
	TokenTTL time.Duration
	// SweepProbability is the chance of a validation to sweep
	// expired entries from the store. Zero means
	// DefaultSweepProbability, negative disables sweeping.
	SweepProbability float64
	Metrics          metrics.Metrics
	Log              logging.Logger
	Now              func() time.Time
	// Rand returns a pseudo random number in [0, 1), used for
	// sweep sampling
	Rand func() float64
}

// Service issues and validates tokens.
type Service struct {
	store            TokenStore
	ttl              time.Duration
	sweepProbability float64
	metrics          metrics.Metrics
	log              logging.Logger
	now              func() time.Time
	rand             func() float64
	sometimes        rate.Sometimes
}

func New(o Options) *Service {
	s := &Service{
		store:            o.Store,
		ttl:              o.TokenTTL,
		sweepProbability: o.SweepProbability,
		metrics:          o.Metrics,
		log:              o.Log,
		now:              o.Now,
		rand:             o.Rand,
		sometimes:        rate.Sometimes{First: 3, Interval: 1 * time.Second},
	}

	if s.store == nil {
		s.store = NewMemoryTokenStore()
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTokenTTL
	}
	if s.sweepProbability == 0 {
		s.sweepProbability = DefaultSweepProbability
	}
	if s.metrics == nil {
		s.metrics = metrics.Default
	}
	if s.log == nil {
		s.log = &logging.DefaultLog{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rand == nil {
		s.rand = mathrand.Float64
	}

	return s
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue creates a new token for the session, replacing the current
// one.
func (s *Service) Issue(ctx context.Context, session string) (Entry, error) {
	if session == "" {
		return Entry{}, ErrMissingSession
	}

	token, err := newToken()
	if err != nil {
		return Entry{}, fmt.Errorf("failed to generate csrf token: %w", err)
	}

	e := Entry{Token: token, ExpiresAt: s.now().Add(s.ttl)}
	if err := s.store.Put(ctx, session, e); err != nil {
		return Entry{}, fmt.Errorf("failed to store csrf token: %w", err)
	}

	s.metrics.IncCounter(metrics.KeyCSRFIssued)
	return e, nil
}

// Validate returns true when token is the current, unexpired token
// of the session. Validation does not consume the token. The error
// is only set when the store fails.
func (s *Service) Validate(ctx context.Context, session, token string) (bool, error) {
	s.maybeSweep(ctx)

	if session == "" || token == "" {
		return false, nil
	}

	e, ok, err := s.store.Get(ctx, session)
	if err != nil {
		return false, fmt.Errorf("failed to load csrf token: %w", err)
	}
	if !ok {
		return false, nil
	}

	if e.Expired(s.now()) {
		if err := s.store.Delete(ctx, session); err != nil {
			s.log.Debugf("Failed to delete expired csrf token: %v", err)
		}
		return false, nil
	}

	return subtle.ConstantTimeCompare([]byte(e.Token), []byte(token)) == 1, nil
}

// Check validates the token of a request. Safe methods always pass.
// It returns ErrMissingSession, ErrMissingToken or ErrInvalidToken
// for rejected requests, other errors are store failures.
func (s *Service) Check(ctx context.Context, r *http.Request) error {
	if Safe(r.Method) {
		return nil
	}

	session := SessionFromRequest(r)
	if session == "" {
		return ErrMissingSession
	}

	token := TokenFromRequest(r)
	if token == "" {
		return ErrMissingToken
	}

	ok, err := s.Validate(ctx, session, token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidToken
	}

	return nil
}

// Sweep removes expired tokens.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.Sweep(ctx, s.now())
	if n > 0 {
		s.metrics.IncCounterBy(metrics.KeyCSRFSwept, int64(n))
	}
	return n, err
}

func (s *Service) maybeSweep(ctx context.Context) {
	if s.sweepProbability < 0 || s.rand() >= s.sweepProbability {
		return
	}

	if _, err := s.Sweep(ctx); err != nil {
		s.sometimes.Do(func() {
			s.log.Errorf("Failed to sweep csrf tokens: %v", err)
		})
	}
}

func (s *Service) Close() {
	s.store.Close()
}

// Safe returns true for methods that never change state.
func Safe(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// TokenFromRequest returns the presented token, the header takes
// precedence over the cookie.
func TokenFromRequest(r *http.Request) string {
	if t := r.Header.Get(TokenHeader); t != "" {
		return t
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}

// SessionFromRequest returns the session of the request, the header
// takes precedence over the cookie.
func SessionFromRequest(r *http.Request) string {
	if s := r.Header.Get(SessionHeader); s != "" {
		return s
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}
