// Package ratelimitbypass exempts trusted callers from rate limiting,
// either by their address or by a signed bypass token.
package ratelimitbypass

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
	"go4.org/netipx"

	"github.com/dojopool/gatekeeper/net"
)

const (
	DefaultBypassHeader = "X-RateLimit-Bypass"
	DefaultTokenExpiry  = time.Hour

	tokenSubject = "ratelimit-bypass"
)

var ErrMissingSecret = errors.New("bypass tokens require a secret key")

// Config holds configuration for rate limit bypass functionality.
type Config struct {
	// SecretKey signs bypass tokens, tokens are disabled when
	// empty
	SecretKey    string        `yaml:"secret-key"`
	TokenExpiry  time.Duration `yaml:"token-expiry"`
	BypassHeader string        `yaml:"header"`
	BypassCookie string        `yaml:"cookie"`
	// IPAllowlist contains addresses and CIDRs
	IPAllowlist []string `yaml:"ip-allowlist"`
	// Addr returns the client address matched against the
	// allowlist, defaults to net.RemoteAddr
	Addr func(*http.Request) netip.Addr `yaml:"-"`
}

// Validator validates bypass tokens and the address allowlist.
type Validator struct {
	config Config
	allow  *netipx.IPSet
	secret []byte
	now    func() time.Time
}

// NewValidator creates a new bypass validator.
func NewValidator(config Config) (*Validator, error) {
	allow, err := net.ParseIPCIDRs(config.IPAllowlist)
	if err != nil {
		return nil, fmt.Errorf("invalid bypass allowlist: %w", err)
	}

	if config.TokenExpiry <= 0 {
		config.TokenExpiry = DefaultTokenExpiry
	}
	if config.BypassHeader == "" {
		config.BypassHeader = DefaultBypassHeader
	}
	if config.Addr == nil {
		config.Addr = net.RemoteAddr
	}

	return &Validator{
		config: config,
		allow:  allow,
		secret: []byte(config.SecretKey),
		now:    time.Now,
	}, nil
}

// Allowlisted checks if the request comes from an allowlisted
// address.
func (v *Validator) Allowlisted(req *http.Request) bool {
	addr := v.config.Addr(req)
	return addr.IsValid() && v.allow.Contains(addr)
}

func (v *Validator) token(req *http.Request) string {
	if t := req.Header.Get(v.config.BypassHeader); t != "" {
		return t
	}

	if v.config.BypassCookie != "" {
		if c, err := req.Cookie(v.config.BypassCookie); err == nil {
			return c.Value
		}
	}

	return ""
}

// ValidateToken validates the bypass token of the request.
func (v *Validator) ValidateToken(req *http.Request) bool {
	if len(v.secret) == 0 {
		return false
	}

	s := v.token(req)
	if s == "" {
		return false
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(s, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		log.Debugf("Invalid bypass token: %v", err)
		return false
	}

	return claims.Subject == tokenSubject
}

// Bypass returns true if the request should bypass rate limiting.
func (v *Validator) Bypass(req *http.Request) bool {
	if v.Allowlisted(req) {
		log.Debugf("Request bypassed due to address allowlist: %s", v.config.Addr(req))
		return true
	}

	if v.ValidateToken(req) {
		log.Debug("Request bypassed due to valid token")
		return true
	}

	return false
}

// GenerateToken generates a new bypass token.
func (v *Validator) GenerateToken() (string, error) {
	if len(v.secret) == 0 {
		return "", ErrMissingSecret
	}

	now := v.now()
	claims := &jwt.RegisteredClaims{
		Subject:   tokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(v.config.TokenExpiry)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Config returns the bypass configuration with defaults applied.
func (v *Validator) Config() Config {
	return v.config
}
