package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var errStoreDown = errors.New("store down")

// failingStore fails every call until healthy is set.
type failingStore struct {
	mu      sync.Mutex
	calls   int
	healthy bool
	inner   CounterStore
}

func (s *failingStore) called() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.healthy, s.calls
}

func (s *failingStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *failingStore) SetHealthy(h bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = h
}

func (s *failingStore) Increment(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if ok, _ := s.called(); !ok {
		return Result{}, errStoreDown
	}
	return s.inner.Increment(ctx, key, limit, window)
}

func (s *failingStore) Get(ctx context.Context, key string) (Counter, bool, error) {
	if ok, _ := s.called(); !ok {
		return Counter{}, false, errStoreDown
	}
	return s.inner.Get(ctx, key)
}

func (s *failingStore) Reset(ctx context.Context, key string) error {
	if ok, _ := s.called(); !ok {
		return errStoreDown
	}
	return s.inner.Reset(ctx, key)
}

func (s *failingStore) Close() {}

func newRequest(method, path, addr string) *http.Request {
	r := httptest.NewRequest(method, path, nil)
	r.RemoteAddr = addr + ":12345"
	return r
}
