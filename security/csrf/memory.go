package csrf

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryTokenStore keeps the tokens of a single instance. Entries
// are reclaimed by Sweep, there is no background janitor.
type MemoryTokenStore struct {
	entries *cache.Cache
}

var _ TokenStore = &MemoryTokenStore{}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{entries: cache.New(cache.NoExpiration, 0)}
}

func (s *MemoryTokenStore) Put(_ context.Context, session string, e Entry) error {
	s.entries.Set(session, e, cache.NoExpiration)
	return nil
}

func (s *MemoryTokenStore) Get(_ context.Context, session string) (Entry, bool, error) {
	v, ok := s.entries.Get(session)
	if !ok {
		return Entry{}, false, nil
	}
	return v.(Entry), true, nil
}

func (s *MemoryTokenStore) Delete(_ context.Context, session string) error {
	s.entries.Delete(session)
	return nil
}

func (s *MemoryTokenStore) Sweep(_ context.Context, now time.Time) (int, error) {
	var n int
	for session, item := range s.entries.Items() {
		if item.Object.(Entry).Expired(now) {
			s.entries.Delete(session)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, including expired ones.
func (s *MemoryTokenStore) Len() int {
	return s.entries.ItemCount()
}

func (s *MemoryTokenStore) Close() {
	s.entries.Flush()
}
