package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	memoryShards = 64

	// DefaultSweepProbability is the fraction of calls that sweep
	// the expired counters of their shard.
	DefaultSweepProbability = 0.01
)

type memoryEntry struct {
	count   int
	resetAt time.Time
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// MemoryStoreOptions configure a MemoryStore.
type MemoryStoreOptions struct {
	// Now returns the current time, defaults to time.Now
	Now func() time.Time

	// SweepProbability defaults to DefaultSweepProbability, a
	// negative value disables sweeping.
	SweepProbability float64
}

// MemoryStore is an in process CounterStore. Counters are sharded by
// key hash, each shard has its own lock.
type MemoryStore struct {
	shards           [memoryShards]memoryShard
	now              func() time.Time
	sweepProbability float64
}

var _ CounterStore = &MemoryStore{}

func NewMemoryStore(o MemoryStoreOptions) *MemoryStore {
	m := &MemoryStore{
		now:              o.Now,
		sweepProbability: o.SweepProbability,
	}

	if m.now == nil {
		m.now = time.Now
	}
	if m.sweepProbability == 0 {
		m.sweepProbability = DefaultSweepProbability
	}

	for i := range m.shards {
		m.shards[i].entries = make(map[string]memoryEntry)
	}
	return m
}

func (m *MemoryStore) shard(key string) *memoryShard {
	return &m.shards[xxhash.Sum64String(key)%memoryShards]
}

func (m *MemoryStore) Increment(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	now := m.now()
	s := m.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if m.sweepProbability > 0 && rand.Float64() < m.sweepProbability {
		s.sweep(now)
	}

	e, ok := s.entries[key]
	if !ok || now.After(e.resetAt) {
		e = memoryEntry{count: 1, resetAt: now.Add(window)}
		s.entries[key] = e
		return Result{Allowed: true, Count: e.count, ResetAt: e.resetAt}, nil
	}

	if e.count >= limit {
		return Result{Allowed: false, Count: e.count, ResetAt: e.resetAt}, nil
	}

	e.count++
	s.entries[key] = e
	return Result{Allowed: true, Count: e.count, ResetAt: e.resetAt}, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (Counter, bool, error) {
	if err := ctx.Err(); err != nil {
		return Counter{}, false, err
	}

	now := m.now()
	s := m.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || now.After(e.resetAt) {
		return Counter{}, false, nil
	}
	return Counter{Count: e.count, ResetAt: e.resetAt}, true, nil
}

func (m *MemoryStore) Reset(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := m.shard(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Sweep removes all expired counters.
func (m *MemoryStore) Sweep() {
	now := m.now()
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		s.sweep(now)
		s.mu.Unlock()
	}
}

// Len returns the number of stored counters, including expired ones
// not swept yet.
func (m *MemoryStore) Len() (n int) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return
}

func (m *MemoryStore) Close() {}

func (s *memoryShard) sweep(now time.Time) {
	for k, e := range s.entries {
		if now.After(e.resetAt) {
			delete(s.entries, k)
		}
	}
}
