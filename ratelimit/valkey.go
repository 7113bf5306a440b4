package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opentracing/opentracing-go/ext"
	"github.com/valkey-io/valkey-go"

	"github.com/dojopool/gatekeeper/metrics"
	"github.com/dojopool/gatekeeper/net"
)

const valkeyStoreType = "valkey"

// ValkeyStore is a CounterStore shared by all instances connected to
// the same Valkey server or cluster.
type ValkeyStore struct {
	client    *net.ValkeyClient
	metrics   metrics.Metrics
	increment *valkey.Lua
	peek      *valkey.Lua
	now       func() time.Time
}

var _ CounterStore = &ValkeyStore{}

func NewValkeyStore(client *net.ValkeyClient) *ValkeyStore {
	return &ValkeyStore{
		client:    client,
		metrics:   client.Metrics(),
		increment: net.NewScript(incrementScript),
		peek:      net.NewScript(peekScript),
		now:       time.Now,
	}
}

func (s *ValkeyStore) measureQuery(fail *bool, start time.Time) {
	result := "success"
	if fail != nil && *fail {
		result = "failure"
	}
	s.metrics.MeasureSince(fmt.Sprintf(metrics.KeyStoreQuery, valkeyStoreType, result), start)
}

func (s *ValkeyStore) Increment(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	span := startSpan(ctx, s.client, incrementSpanName, valkeyStoreType, key)
	defer span.Finish()

	now := s.now()
	var queryFailure bool
	defer s.measureQuery(&queryFailure, now)

	reply, err := s.client.RunScript(ctx, s.increment, []string{key},
		strconv.Itoa(limit), strconv.FormatInt(windowMillis(window), 10))
	if err == nil {
		var res Result
		if res, err = resultFromReply(reply, now); err == nil {
			return res, nil
		}
	}

	queryFailure = true
	ext.Error.Set(span, true)
	span.SetTag(storeErrorTag, err.Error())
	return Result{}, fmt.Errorf("failed to increment %s: %w", key, err)
}

func (s *ValkeyStore) Get(ctx context.Context, key string) (Counter, bool, error) {
	span := startSpan(ctx, s.client, peekSpanName, valkeyStoreType, key)
	defer span.Finish()

	now := s.now()
	reply, err := s.client.RunScript(ctx, s.peek, []string{key})
	if err != nil {
		ext.Error.Set(span, true)
		return Counter{}, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return counterFromReply(reply, now)
}

func (s *ValkeyStore) Reset(ctx context.Context, key string) error {
	_, err := s.client.Del(ctx, key)
	return err
}

// Close closes the underlying client.
func (s *ValkeyStore) Close() {
	s.client.Close()
}
