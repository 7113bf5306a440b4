package net

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/opentracing/opentracing-go"
	"github.com/redis/go-redis/v9"

	"github.com/dojopool/gatekeeper/logging"
	"github.com/dojopool/gatekeeper/metrics"
)

// RedisOptions is used to configure the redis.Ring
type RedisOptions struct {
	// Addrs are the list of redis shards
	Addrs []string

	// Password used to authenticate against all shards
	Password string

	// ReadTimeout for redis socket reads
	ReadTimeout time.Duration
	// WriteTimeout for redis socket writes
	WriteTimeout time.Duration
	// DialTimeout is the max time.Duration to dial a new connection
	DialTimeout time.Duration
	// PoolTimeout is the max time.Duration to get a connection from pool
	PoolTimeout time.Duration

	// MinIdleConns is the minimum number of socket connections to redis
	MinIdleConns int
	// MaxIdleConns is the maximum number of socket connections to redis
	MaxIdleConns int

	// ConnMetricsInterval defines the frequency of updating the redis
	// connection related metrics. Defaults to 60 seconds.
	ConnMetricsInterval time.Duration
	// MetricsPrefix is the prefix for redis ring client metrics,
	// defaults to "gatekeeper.redis." if not set
	MetricsPrefix string
	// Metrics collector, defaults to metrics.Default
	Metrics metrics.Metrics
	// Tracer provides OpenTracing for Redis queries.
	Tracer opentracing.Tracer
	// Log is the logger that is used
	Log logging.Logger
}

// RedisRingClient is a wrapper around redis.Ring that logs to the
// logging.Logger interface, collects connection pool metrics and
// provides the tracer used to trace the queries.
type RedisRingClient struct {
	ring          *redis.Ring
	log           logging.Logger
	metrics       metrics.Metrics
	metricsPrefix string
	options       *RedisOptions
	tracer        opentracing.Tracer
	quit          chan struct{}
	once          sync.Once
}

const (
	DefaultReadTimeout  = 25 * time.Millisecond
	DefaultWriteTimeout = 25 * time.Millisecond
	DefaultPoolTimeout  = 25 * time.Millisecond
	DefaultDialTimeout  = 25 * time.Millisecond
	DefaultMinConns     = 100
	DefaultMaxConns     = 100

	defaultConnMetricsInterval = 60 * time.Second
	defaultRedisMetricsPrefix  = "gatekeeper.redis."
)

var ErrNoRedisShards = errors.New("no redis shards configured")

// NewRedisRingClient creates a client for the shards in ro. Unset
// timeouts and pool sizes get the package defaults.
func NewRedisRingClient(ro *RedisOptions) (*RedisRingClient, error) {
	if ro == nil || len(ro.Addrs) == 0 {
		return nil, ErrNoRedisShards
	}

	if ro.ReadTimeout == 0 {
		ro.ReadTimeout = DefaultReadTimeout
	}
	if ro.WriteTimeout == 0 {
		ro.WriteTimeout = DefaultWriteTimeout
	}
	if ro.PoolTimeout == 0 {
		ro.PoolTimeout = DefaultPoolTimeout
	}
	if ro.DialTimeout == 0 {
		ro.DialTimeout = DefaultDialTimeout
	}
	if ro.MinIdleConns == 0 {
		ro.MinIdleConns = DefaultMinConns
	}
	if ro.MaxIdleConns == 0 {
		ro.MaxIdleConns = DefaultMaxConns
	}
	if ro.ConnMetricsInterval <= 0 {
		ro.ConnMetricsInterval = defaultConnMetricsInterval
	}
	if ro.MetricsPrefix == "" {
		ro.MetricsPrefix = defaultRedisMetricsPrefix
	}
	if ro.Metrics == nil {
		ro.Metrics = metrics.Default
	}
	if ro.Tracer == nil {
		ro.Tracer = &opentracing.NoopTracer{}
	}
	if ro.Log == nil {
		ro.Log = &logging.DefaultLog{}
	}

	ringOptions := &redis.RingOptions{
		Addrs:        make(map[string]string, len(ro.Addrs)),
		Password:     ro.Password,
		ReadTimeout:  ro.ReadTimeout,
		WriteTimeout: ro.WriteTimeout,
		PoolTimeout:  ro.PoolTimeout,
		DialTimeout:  ro.DialTimeout,
		MinIdleConns: ro.MinIdleConns,
		PoolSize:     ro.MaxIdleConns,
	}
	for idx, addr := range ro.Addrs {
		ringOptions.Addrs[fmt.Sprintf("redis%d", idx)] = addr
	}

	return &RedisRingClient{
		ring:          redis.NewRing(ringOptions),
		log:           ro.Log,
		metrics:       ro.Metrics,
		metricsPrefix: ro.MetricsPrefix,
		options:       ro,
		tracer:        ro.Tracer,
		quit:          make(chan struct{}),
	}, nil
}

// RingAvailable pings the ring with exponential backoff and reports
// whether it became reachable.
func (r *RedisRingClient) RingAvailable(ctx context.Context) bool {
	_, err := backoff.Retry(ctx, func() (string, error) {
		res, err := r.ring.Ping(ctx).Result()
		if err != nil {
			r.log.Infof("Failed to ping redis, retry with backoff: %v", err)
		}
		return res, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(7))

	return err == nil
}

// StartMetricsCollection updates the connection pool gauges until
// Close is called.
func (r *RedisRingClient) StartMetricsCollection() {
	go func() {
		ticker := time.NewTicker(r.options.ConnMetricsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := r.ring.PoolStats()
				r.metrics.UpdateGauge(r.metricsPrefix+"hits", float64(stats.Hits))
				r.metrics.UpdateGauge(r.metricsPrefix+"idleconns", float64(stats.IdleConns))
				r.metrics.UpdateGauge(r.metricsPrefix+"misses", float64(stats.Misses))
				r.metrics.UpdateGauge(r.metricsPrefix+"staleconns", float64(stats.StaleConns))
				r.metrics.UpdateGauge(r.metricsPrefix+"timeouts", float64(stats.Timeouts))
				r.metrics.UpdateGauge(r.metricsPrefix+"totalconns", float64(stats.TotalConns))
			case <-r.quit:
				return
			}
		}
	}()
}

func (r *RedisRingClient) Metrics() metrics.Metrics {
	return r.metrics
}

func (r *RedisRingClient) Tracer() opentracing.Tracer {
	return r.tracer
}

func (r *RedisRingClient) StartSpan(operationName string, opts ...opentracing.StartSpanOption) opentracing.Span {
	return r.tracer.StartSpan(operationName, opts...)
}

// Close stops the metrics collection and closes all shard
// connections. It is safe to call Close more than once.
func (r *RedisRingClient) Close() error {
	if r == nil {
		return nil
	}

	var err error
	r.once.Do(func() {
		close(r.quit)
		err = r.ring.Close()
	})
	return err
}

func (r *RedisRingClient) RunScript(ctx context.Context, s *redis.Script, keys []string, args ...any) (any, error) {
	return s.Run(ctx, r.ring, keys, args...).Result()
}

func (r *RedisRingClient) Get(ctx context.Context, key string) (string, error) {
	return r.ring.Get(ctx, key).Result()
}

func (r *RedisRingClient) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	return r.ring.Set(ctx, key, value, expiration).Err()
}

func (r *RedisRingClient) Del(ctx context.Context, keys ...string) (int64, error) {
	return r.ring.Del(ctx, keys...).Result()
}

func (r *RedisRingClient) PTTL(ctx context.Context, key string) (time.Duration, error) {
	return r.ring.PTTL(ctx, key).Result()
}

// IsNil reports whether err is the "key does not exist" reply.
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
