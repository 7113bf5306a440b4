package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/dojopool/gatekeeper/logging"
	"github.com/dojopool/gatekeeper/metrics"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed bool
	// Limit is MaxHits of the policy
	Limit int
	// Remaining requests in the current window
	Remaining int
	// ResetAt is the end of the current window, or of the block
	ResetAt time.Time
	// RetryAfter is the number of seconds a denied client should
	// wait
	RetryAfter int
	// Blocked is set when the client is denied by a block
	Blocked bool
	// Degraded is set when the store failed and the decision was
	// taken by the failure mode
	Degraded bool

	Policy Policy
	Key    string
}

// Options configure a Limiter.
type Options struct {
	// Registry resolves the policies, required
	Registry *Registry
	// Store holds the counters, required
	Store CounterStore
	// Lookuper identifies the client, defaults to
	// XForwardedForLookuper
	Lookuper Lookuper
	// FailureMode decides when the store fails
	FailureMode FailureMode
	// BlockList enables Policy.Block, blocking is disabled when
	// nil
	BlockList *BlockList
	Metrics   metrics.Metrics
	Log       logging.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

// Limiter decides whether a request is within the quota of its
// policy.
type Limiter struct {
	registry    *Registry
	store       CounterStore
	lookuper    Lookuper
	failureMode FailureMode
	blocks      *BlockList
	metrics     metrics.Metrics
	log         logging.Logger
	now         func() time.Time
	sometimes   rate.Sometimes
}

func NewLimiter(o Options) *Limiter {
	l := &Limiter{
		registry:    o.Registry,
		store:       o.Store,
		lookuper:    o.Lookuper,
		failureMode: o.FailureMode,
		blocks:      o.BlockList,
		metrics:     o.Metrics,
		log:         o.Log,
		now:         o.Now,
		sometimes:   rate.Sometimes{First: 3, Interval: 1 * time.Second},
	}

	if l.lookuper == nil {
		l.lookuper = XForwardedForLookuper{}
	}
	if l.metrics == nil {
		l.metrics = metrics.Default
	}
	if l.log == nil {
		l.log = &logging.DefaultLog{}
	}
	if l.now == nil {
		l.now = time.Now
	}

	return l
}

// Resolve returns the policy of the request and the counter key of
// its client.
func (l *Limiter) Resolve(r *http.Request) (Policy, string) {
	p := l.registry.Resolve(r.URL.Path)
	return p, DeriveKey(l.lookuper.Lookup(r), r.URL.Path, p)
}

// Check counts the request against the quota of its policy. A non
// nil error means the store failed, the returned decision is then
// taken by the failure mode.
func (l *Limiter) Check(ctx context.Context, r *http.Request) (Decision, error) {
	p, key := l.Resolve(r)
	return l.CheckKey(ctx, key, p)
}

// CheckKey counts one hit of key against p.
func (l *Limiter) CheckKey(ctx context.Context, key string, p Policy) (Decision, error) {
	now := l.now()

	if d, ok := l.blocked(key, p, now); ok {
		return d, nil
	}

	d, err := decide(ctx, l.store, key, p, now)
	if err != nil {
		l.metrics.IncCounter(fmt.Sprintf(metrics.KeyStoreFailMode, l.failureMode))
		l.sometimes.Do(func() {
			l.log.Errorf("Failed to check ratelimit for %s, failing %s: %v", key, l.failureMode, err)
		})

		d.Allowed = l.failureMode == FailOpen
		d.Degraded = true
		return d, err
	}

	if !d.Allowed && l.blocks != nil && p.Block > 0 {
		d.ResetAt = l.blocks.Block(key, p.Block)
		d.RetryAfter = retryAfter(d.ResetAt, now)
		d.Blocked = true
	}

	return d, nil
}

func (l *Limiter) blocked(key string, p Policy, now time.Time) (Decision, bool) {
	if l.blocks == nil || p.Block <= 0 {
		return Decision{}, false
	}

	until, ok := l.blocks.Blocked(key)
	if !ok {
		return Decision{}, false
	}

	return Decision{
		Limit:      p.MaxHits,
		ResetAt:    until,
		RetryAfter: retryAfter(until, now),
		Blocked:    true,
		Policy:     p,
		Key:        key,
	}, true
}

// Peek returns the current usage of the request's quota without
// counting it.
func (l *Limiter) Peek(ctx context.Context, r *http.Request) (Decision, error) {
	p, key := l.Resolve(r)
	now := l.now()

	if d, ok := l.blocked(key, p, now); ok {
		return d, nil
	}

	d := Decision{Allowed: true, Limit: p.MaxHits, Remaining: p.MaxHits, Policy: p, Key: key}

	c, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return d, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if ok {
		d.Remaining = max(0, p.MaxHits-c.Count)
		d.ResetAt = c.ResetAt
		if d.Remaining == 0 {
			d.Allowed = false
			d.RetryAfter = retryAfter(c.ResetAt, now)
		}
	}

	return d, nil
}

// Reset clears the counter and the block of the request's client.
func (l *Limiter) Reset(ctx context.Context, r *http.Request) error {
	_, key := l.Resolve(r)
	if l.blocks != nil {
		l.blocks.Unblock(key)
	}
	return l.store.Reset(ctx, key)
}

// Close closes the store.
func (l *Limiter) Close() {
	l.store.Close()
}

func decide(ctx context.Context, store CounterStore, key string, p Policy, now time.Time) (Decision, error) {
	d := Decision{Limit: p.MaxHits, Policy: p, Key: key}

	res, err := store.Increment(ctx, key, p.MaxHits, p.TimeWindow)
	if err != nil {
		return d, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	d.Allowed = res.Allowed
	d.ResetAt = res.ResetAt
	if res.Allowed {
		d.Remaining = max(0, p.MaxHits-res.Count)
	} else {
		d.RetryAfter = retryAfter(res.ResetAt, now)
	}

	return d, nil
}

// retryAfter rounds up to full seconds, denied clients wait at least
// one second.
func retryAfter(resetAt, now time.Time) int {
	s := int(math.Ceil(resetAt.Sub(now).Seconds()))
	return max(1, s)
}

// SetHeaders writes the quota headers of d. Retry-After is only set
// for denied decisions. Degraded decisions carry no quota
// information and set no headers.
func SetHeaders(h http.Header, d Decision) {
	if d.Degraded {
		return
	}

	h.Set(LimitHeader, strconv.Itoa(d.Limit))
	h.Set(RemainingHeader, strconv.Itoa(d.Remaining))
	h.Set(ResetHeader, strconv.FormatInt(d.ResetAt.Unix(), 10))

	if !d.Allowed {
		h.Set(RetryAfterHeader, strconv.Itoa(d.RetryAfter))
	}
}
