package net

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/valkey-io/valkey-go"

	"github.com/dojopool/gatekeeper/logging"
	"github.com/dojopool/gatekeeper/metrics"
)

// ValkeyOptions is used to configure the ValkeyClient.
//
// Many options are named like
// https://pkg.go.dev/github.com/valkey-io/valkey-go#ClientOption,
// which we pass to the valkey.Client on creation
type ValkeyOptions struct {
	// Addrs are the initial addresses of the valkey server or
	// cluster
	Addrs []string

	// Username used to connect to the Valkey server
	Username string
	// Password is the password needed to connect to Valkey server
	Password string

	// ConnWriteTimeout for valkey socket read,write,dial timeouts
	ConnWriteTimeout time.Duration

	// Metrics collector, defaults to metrics.Default
	Metrics metrics.Metrics
	// Tracer provides OpenTracing for Valkey queries.
	Tracer opentracing.Tracer
	// Log is the logger that is used
	Log logging.Logger
}

// ValkeyClient is a wrapper around valkey.Client. Operations are
// traced with opentracing by the callers through StartSpan.
type ValkeyClient struct {
	client  valkey.Client
	log     logging.Logger
	metrics metrics.Metrics
	tracer  opentracing.Tracer
	once    sync.Once
}

var ErrNoValkeyAddrs = errors.New("no valkey addresses configured")

func NewValkeyClient(opt *ValkeyOptions) (*ValkeyClient, error) {
	if opt == nil || len(opt.Addrs) == 0 {
		return nil, ErrNoValkeyAddrs
	}

	if opt.Tracer == nil {
		opt.Tracer = &opentracing.NoopTracer{}
	}
	if opt.Log == nil {
		opt.Log = &logging.DefaultLog{}
	}
	if opt.Metrics == nil {
		opt.Metrics = metrics.Default
	}

	cli, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:      opt.Addrs,
		Username:         opt.Username,
		Password:         opt.Password,
		ConnWriteTimeout: opt.ConnWriteTimeout,
		// reduce CPU load without much impact, ref: https://github.com/redis/rueidis/issues/156
		MaxFlushDelay: 20 * time.Microsecond,
		DisableRetry:  true,
	})
	if err != nil {
		return nil, err
	}

	return &ValkeyClient{
		client:  cli,
		log:     opt.Log,
		metrics: opt.Metrics,
		tracer:  opt.Tracer,
	}, nil
}

func (vc *ValkeyClient) Metrics() metrics.Metrics {
	return vc.metrics
}

func (vc *ValkeyClient) StartSpan(operationName string, opts ...opentracing.StartSpanOption) opentracing.Span {
	return vc.tracer.StartSpan(operationName, opts...)
}

func (vc *ValkeyClient) Ping(ctx context.Context) error {
	return vc.client.Do(ctx, vc.client.B().Ping().Build()).Error()
}

func (vc *ValkeyClient) Get(ctx context.Context, key string) (string, error) {
	return vc.client.Do(ctx, vc.client.B().Get().Key(key).Build()).ToString()
}

// SetWithExpire sets the value and its expiry in one pipeline. The
// expiry has seconds resolution.
func (vc *ValkeyClient) SetWithExpire(ctx context.Context, key, value string, expire time.Duration) error {
	for _, res := range vc.client.DoMulti(ctx,
		vc.client.B().Set().Key(key).Value(value).Build(),
		vc.client.B().Expire().Key(key).Seconds(int64(expire.Seconds())).Build(),
	) {
		if err := res.Error(); err != nil {
			return err
		}
	}
	return nil
}

func (vc *ValkeyClient) Del(ctx context.Context, keys ...string) (int64, error) {
	return vc.client.Do(ctx, vc.client.B().Del().Key(keys...).Build()).AsInt64()
}

func (vc *ValkeyClient) RunScript(ctx context.Context, script *valkey.Lua, keys []string, args ...string) ([]int64, error) {
	return script.Exec(ctx, vc.client, keys, args).AsIntSlice()
}

// Close closes the underlying client, it is safe to call more than
// once.
func (vc *ValkeyClient) Close() {
	vc.once.Do(vc.client.Close)
}

// IsValkeyNil reports whether err is the "key does not exist" reply.
func IsValkeyNil(err error) bool {
	return valkey.IsValkeyNil(err)
}

// NewScript creates a Lua script runnable by RunScript.
func NewScript(src string) *valkey.Lua {
	return valkey.NewLuaScript(src)
}
