package csrf

import (
	"context"
	"time"

	"github.com/dojopool/gatekeeper/net"
)

// RedisTokenStore shares tokens between instances through a Redis
// ring. Entries expire natively.
type RedisTokenStore struct {
	client *net.RedisRingClient
	now    func() time.Time
}

var _ TokenStore = &RedisTokenStore{}

func NewRedisTokenStore(client *net.RedisRingClient) *RedisTokenStore {
	return &RedisTokenStore{client: client, now: time.Now}
}

func (s *RedisTokenStore) Put(ctx context.Context, session string, e Entry) error {
	return s.client.Set(ctx, storeKey(session), encodeEntry(e), ttl(e, s.now()))
}

func (s *RedisTokenStore) Get(ctx context.Context, session string) (Entry, bool, error) {
	v, err := s.client.Get(ctx, storeKey(session))
	if net.IsNil(err) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	e, err := decodeEntry(v)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, session string) error {
	_, err := s.client.Del(ctx, storeKey(session))
	return err
}

func (*RedisTokenStore) Sweep(context.Context, time.Time) (int, error) { return 0, nil }

func (s *RedisTokenStore) Close() {
	s.client.Close()
}
