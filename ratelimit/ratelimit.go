package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"go4.org/netipx"

	"github.com/dojopool/gatekeeper/net"
)

const (
	// LimitHeader is the maximum number of requests in the window
	LimitHeader = "X-RateLimit-Limit"
	// RemainingHeader is the number of requests left in the
	// current window
	RemainingHeader = "X-RateLimit-Remaining"
	// ResetHeader is the unix time in seconds when the current
	// window resets
	ResetHeader = "X-RateLimit-Reset"
	// RetryAfterHeader is name of the header which will be used to indicate how
	// long a client should wait before making a new request
	RetryAfterHeader = "Retry-After"
)

const (
	DefaultMaxHits    = 100
	DefaultTimeWindow = time.Minute

	keyFormat = "ratelimit:%s:%s"
)

var (
	ErrInvalidPolicy    = errors.New("invalid ratelimit policy")
	ErrStoreUnavailable = errors.New("ratelimit store unavailable")
)

// Lookuper makes it possible to be more flexible for ratelimiting.
type Lookuper interface {
	// Lookup is used to get the string which identifies the
	// client, e.g. its address.
	Lookup(*http.Request) string
}

// XForwardedForLookuper implements Lookuper interface and will
// select a bucket by X-Forwarded-For header or clientIP.
type XForwardedForLookuper struct{}

// Lookup returns the first address of the X-Forwarded-For header or
// the clientIP if not set.
func (XForwardedForLookuper) Lookup(req *http.Request) string {
	return net.RemoteAddr(req).String()
}

// XForwardedForLastLookuper implements Lookuper and selects the last
// address of the X-Forwarded-For header, as set by some load
// balancers.
type XForwardedForLastLookuper struct{}

func (XForwardedForLastLookuper) Lookup(req *http.Request) string {
	return net.RemoteAddrFromLast(req).String()
}

// PeerLookuper implements Lookuper and ignores forwarding headers.
type PeerLookuper struct{}

func (PeerLookuper) Lookup(req *http.Request) string {
	return net.PeerAddr(req).String()
}

// TrustedProxyLookuper implements Lookuper and honors the
// X-Forwarded-For header only for requests from trusted proxies.
type TrustedProxyLookuper struct {
	Trusted *netipx.IPSet
}

func (l TrustedProxyLookuper) Lookup(req *http.Request) string {
	return net.TrustedRemoteAddr(req, l.Trusted).String()
}

// Policy configures the rate limit of all paths starting with Prefix.
type Policy struct {
	// Prefix is matched against the request path, the longest
	// matching prefix wins. The default policy has no prefix.
	Prefix string `yaml:"prefix"`

	// MaxHits is the number of requests allowed per TimeWindow
	MaxHits int `yaml:"max-hits"`

	// TimeWindow is the length of the fixed window
	TimeWindow time.Duration `yaml:"time-window"`

	// Group replaces the request path in the counter key, so all
	// paths of the policy share one counter per client.
	Group string `yaml:"group"`

	// RejectInput makes the input filter reject requests with
	// suspicious bodies instead of sanitizing them.
	RejectInput bool `yaml:"reject-input"`

	// Block keeps a client denied for this duration after it was
	// rate limited, 0 disables blocking.
	Block time.Duration `yaml:"block"`
}

// Validate returns an error wrapping ErrInvalidPolicy if the policy
// cannot be enforced.
func (p Policy) Validate() error {
	if p.MaxHits <= 0 {
		return fmt.Errorf("%w: max-hits must be positive in %s", ErrInvalidPolicy, p)
	}
	if p.TimeWindow <= 0 {
		return fmt.Errorf("%w: time-window must be positive in %s", ErrInvalidPolicy, p)
	}
	if p.Block < 0 {
		return fmt.Errorf("%w: block must not be negative in %s", ErrInvalidPolicy, p)
	}
	return nil
}

func (p Policy) String() string {
	s := fmt.Sprintf("policy(prefix=%q,max-hits=%d,time-window=%s", p.Prefix, p.MaxHits, p.TimeWindow)
	if p.Group != "" {
		s += fmt.Sprintf(",group=%s", p.Group)
	}
	if p.RejectInput {
		s += ",input=reject"
	}
	if p.Block > 0 {
		s += fmt.Sprintf(",block=%s", p.Block)
	}
	return s + ")"
}

// DeriveKey returns the counter key of a client for a request path
// and the policy resolved for it. The key only depends on its
// arguments.
func DeriveKey(client, path string, p Policy) string {
	discriminator := path
	if p.Group != "" {
		discriminator = p.Group
	}
	return fmt.Sprintf(keyFormat, discriminator, client)
}
