package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go/ext"
	"github.com/redis/go-redis/v9"

	"github.com/dojopool/gatekeeper/metrics"
	"github.com/dojopool/gatekeeper/net"
)

const redisStoreType = "redis"

// RedisStore is a CounterStore shared by all instances connected to
// the same Redis ring.
type RedisStore struct {
	client    *net.RedisRingClient
	metrics   metrics.Metrics
	increment *redis.Script
	peek      *redis.Script
	now       func() time.Time
}

var _ CounterStore = &RedisStore{}

func NewRedisStore(client *net.RedisRingClient) *RedisStore {
	return &RedisStore{
		client:    client,
		metrics:   client.Metrics(),
		increment: redis.NewScript(incrementScript),
		peek:      redis.NewScript(peekScript),
		now:       time.Now,
	}
}

func (s *RedisStore) measureQuery(fail *bool, start time.Time) {
	result := "success"
	if fail != nil && *fail {
		result = "failure"
	}
	s.metrics.MeasureSince(fmt.Sprintf(metrics.KeyStoreQuery, redisStoreType, result), start)
}

func (s *RedisStore) Increment(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	span := startSpan(ctx, s.client, incrementSpanName, redisStoreType, key)
	defer span.Finish()

	now := s.now()
	var queryFailure bool
	defer s.measureQuery(&queryFailure, now)

	reply, err := s.client.RunScript(ctx, s.increment, []string{key}, limit, windowMillis(window))
	if err == nil {
		var ints []int64
		if ints, err = int64s(reply); err == nil {
			var res Result
			if res, err = resultFromReply(ints, now); err == nil {
				return res, nil
			}
		}
	}

	queryFailure = true
	ext.Error.Set(span, true)
	span.SetTag(storeErrorTag, err.Error())
	return Result{}, fmt.Errorf("failed to increment %s: %w", key, err)
}

func (s *RedisStore) Get(ctx context.Context, key string) (Counter, bool, error) {
	span := startSpan(ctx, s.client, peekSpanName, redisStoreType, key)
	defer span.Finish()

	now := s.now()
	reply, err := s.client.RunScript(ctx, s.peek, []string{key})
	if err != nil {
		ext.Error.Set(span, true)
		return Counter{}, false, fmt.Errorf("failed to get %s: %w", key, err)
	}

	ints, err := int64s(reply)
	if err != nil {
		return Counter{}, false, err
	}
	return counterFromReply(ints, now)
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	_, err := s.client.Del(ctx, key)
	return err
}

// Close closes the underlying client.
func (s *RedisStore) Close() {
	s.client.Close()
}

func int64s(reply any) ([]int64, error) {
	values, ok := reply.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected script reply type %T", reply)
	}

	ints := make([]int64, len(values))
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected script reply element type %T", v)
		}
		ints[i] = n
	}
	return ints, nil
}
