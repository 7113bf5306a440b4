package csrf

import (
	"context"
	"time"

	"github.com/dojopool/gatekeeper/net"
)

// ValkeyTokenStore shares tokens between instances through Valkey.
// Entries expire natively.
type ValkeyTokenStore struct {
	client *net.ValkeyClient
	now    func() time.Time
}

var _ TokenStore = &ValkeyTokenStore{}

func NewValkeyTokenStore(client *net.ValkeyClient) *ValkeyTokenStore {
	return &ValkeyTokenStore{client: client, now: time.Now}
}

func (s *ValkeyTokenStore) Put(ctx context.Context, session string, e Entry) error {
	return s.client.SetWithExpire(ctx, storeKey(session), encodeEntry(e), ttl(e, s.now()))
}

func (s *ValkeyTokenStore) Get(ctx context.Context, session string) (Entry, bool, error) {
	v, err := s.client.Get(ctx, storeKey(session))
	if net.IsValkeyNil(err) {
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

func (s *ValkeyTokenStore) Delete(ctx context.Context, session string) error {
	_, err := s.client.Del(ctx, storeKey(session))
	return err
}

func (*ValkeyTokenStore) Sweep(context.Context, time.Time) (int, error) { return 0, nil }

func (s *ValkeyTokenStore) Close() {
	s.client.Close()
}
