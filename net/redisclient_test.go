package net

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dojopool/gatekeeper/metrics/metricstest"
	"github.com/dojopool/gatekeeper/net/redistest"
)

func TestRedisClientRequiresShards(t *testing.T) {
	if _, err := NewRedisRingClient(nil); err != ErrNoRedisShards {
		t.Errorf("expected ErrNoRedisShards, got %v", err)
	}
	if _, err := NewRedisRingClient(&RedisOptions{}); err != ErrNoRedisShards {
		t.Errorf("expected ErrNoRedisShards, got %v", err)
	}
}

func TestRedisClientDefaults(t *testing.T) {
	ro := &RedisOptions{Addrs: []string{"127.0.0.1:6379"}}
	cli, err := NewRedisRingClient(ro)
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()

	if ro.ReadTimeout != DefaultReadTimeout || ro.MaxIdleConns != DefaultMaxConns || ro.MetricsPrefix != defaultRedisMetricsPrefix {
		t.Errorf("defaults not applied: %+v", ro)
	}

	// closing twice is fine
	cli.Close()
}

func TestRedisClient(t *testing.T) {
	redisAddr, done := redistest.NewTestRedis(t)
	defer done()

	m := &metricstest.MockMetrics{}
	cli, err := NewRedisRingClient(&RedisOptions{
		Addrs:               []string{redisAddr},
		ReadTimeout:         time.Second,
		WriteTimeout:        time.Second,
		DialTimeout:         time.Second,
		PoolTimeout:         time.Second,
		ConnMetricsInterval: 10 * time.Millisecond,
		Metrics:             m,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()

	ctx := context.Background()
	if !cli.RingAvailable(ctx) {
		t.Fatal("ring not available")
	}

	cli.StartMetricsCollection()

	t.Run("set get del", func(t *testing.T) {
		if err := cli.Set(ctx, "k", "v", time.Minute); err != nil {
			t.Fatal(err)
		}

		v, err := cli.Get(ctx, "k")
		if err != nil || v != "v" {
			t.Fatalf("unexpected get result %q, %v", v, err)
		}

		ttl, err := cli.PTTL(ctx, "k")
		if err != nil || ttl <= 0 || ttl > time.Minute {
			t.Errorf("unexpected ttl %v, %v", ttl, err)
		}

		if n, err := cli.Del(ctx, "k"); err != nil || n != 1 {
			t.Errorf("unexpected del result %d, %v", n, err)
		}

		if _, err := cli.Get(ctx, "k"); !IsNil(err) {
			t.Errorf("expected nil reply, got %v", err)
		}
	})

	t.Run("script", func(t *testing.T) {
		s := redis.NewScript(`return redis.call("INCRBY", KEYS[1], ARGV[1])`)
		res, err := cli.RunScript(ctx, s, []string{"counter"}, 5)
		if err != nil {
			t.Fatal(err)
		}
		if res.(int64) != 5 {
			t.Errorf("unexpected script result %v", res)
		}
	})

	t.Run("pool metrics", func(t *testing.T) {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			var ok bool
			m.WithGauges(func(g map[string]float64) {
				_, ok = g["gatekeeper.redis.totalconns"]
			})
			if ok {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Error("pool metrics not collected")
	})
}
