package ratelimit

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const (
	DefaultBreakerFailures         = 5
	DefaultBreakerTimeout          = 10 * time.Second
	DefaultBreakerHalfOpenRequests = 1
)

// BreakerSettings configure a BreakerStore.
type BreakerSettings struct {
	// Name identifies the breaker in log messages.
	Name string `yaml:"name"`
	// Failures is the number of consecutive failures that open
	// the breaker.
	Failures int `yaml:"failures"`
	// Timeout is the time the breaker stays open.
	Timeout time.Duration `yaml:"timeout"`
	// HalfOpenRequests is the number of probing requests allowed
	// while half open.
	HalfOpenRequests int `yaml:"half-open-requests"`
}

// BreakerStore wraps a CounterStore with a consecutive failures
// circuit breaker. While the breaker is open, calls fail immediately
// with ErrStoreUnavailable.
type BreakerStore struct {
	store    CounterStore
	settings BreakerSettings
	gb       *gobreaker.TwoStepCircuitBreaker
}

var _ CounterStore = &BreakerStore{}

func NewBreakerStore(store CounterStore, s BreakerSettings) *BreakerStore {
	if s.Failures <= 0 {
		s.Failures = DefaultBreakerFailures
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultBreakerTimeout
	}
	if s.HalfOpenRequests <= 0 {
		s.HalfOpenRequests = DefaultBreakerHalfOpenRequests
	}

	b := &BreakerStore{
		store:    store,
		settings: s,
	}

	b.gb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: uint32(s.HalfOpenRequests),
		Timeout:     s.Timeout,
		ReadyToTrip: b.readyToTrip,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Infof("circuit breaker %v went from %v to %v", name, from.String(), to.String())
		},
	})

	return b
}

func (b *BreakerStore) readyToTrip(c gobreaker.Counts) bool {
	return int(c.ConsecutiveFailures) >= b.settings.Failures
}

func (b *BreakerStore) allow() (func(bool), error) {
	done, err := b.gb.Allow()

	// this error can only indicate that the breaker is not closed
	if err != nil {
		return nil, fmt.Errorf("%w: %s breaker %w", ErrStoreUnavailable, b.settings.Name, err)
	}
	return done, nil
}

// countsAsFailure ignores cancellations of the caller, they say
// nothing about the health of the store.
func countsAsFailure(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() == nil
}

func (b *BreakerStore) Increment(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	done, err := b.allow()
	if err != nil {
		return Result{}, err
	}

	res, err := b.store.Increment(ctx, key, limit, window)
	done(!countsAsFailure(ctx, err))
	return res, err
}

func (b *BreakerStore) Get(ctx context.Context, key string) (Counter, bool, error) {
	done, err := b.allow()
	if err != nil {
		return Counter{}, false, err
	}

	c, ok, err := b.store.Get(ctx, key)
	done(!countsAsFailure(ctx, err))
	return c, ok, err
}

func (b *BreakerStore) Reset(ctx context.Context, key string) error {
	done, err := b.allow()
	if err != nil {
		return err
	}

	err = b.store.Reset(ctx, key)
	done(!countsAsFailure(ctx, err))
	return err
}

// State returns the current state of the breaker, e.g. "open".
func (b *BreakerStore) State() string {
	return b.gb.State().String()
}

func (b *BreakerStore) Close() {
	b.store.Close()
}
