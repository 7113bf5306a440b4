package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
)

// incrementScript implements CounterStore.Increment for Redis
// compatible servers in one atomic step.
//
// KEYS[1] counter key, ARGV[1] limit, ARGV[2] window in milliseconds.
// Returns {allowed, count, pttl}.
const incrementScript = `
local count = redis.call("GET", KEYS[1])
if not count then
	redis.call("SET", KEYS[1], 1, "PX", ARGV[2])
	return {1, 1, tonumber(ARGV[2])}
end
count = tonumber(count)
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	ttl = tonumber(ARGV[2])
end
if count >= tonumber(ARGV[1]) then
	return {0, count, ttl}
end
count = redis.call("INCR", KEYS[1])
return {1, count, ttl}
`

// peekScript returns {count, pttl} of KEYS[1], {0, 0} if absent.
const peekScript = `
local count = redis.call("GET", KEYS[1])
if not count then
	return {0, 0}
end
return {tonumber(count), redis.call("PTTL", KEYS[1])}
`

const (
	incrementSpanName = "%s_increment"
	peekSpanName      = "%s_peek"

	storeErrorTag = "store.error"
)

func resultFromReply(reply []int64, now time.Time) (Result, error) {
	if len(reply) != 3 {
		return Result{}, fmt.Errorf("unexpected increment reply length %d", len(reply))
	}

	return Result{
		Allowed: reply[0] == 1,
		Count:   int(reply[1]),
		ResetAt: now.Add(time.Duration(reply[2]) * time.Millisecond),
	}, nil
}

func counterFromReply(reply []int64, now time.Time) (Counter, bool, error) {
	if len(reply) != 2 {
		return Counter{}, false, fmt.Errorf("unexpected peek reply length %d", len(reply))
	}

	if reply[0] == 0 {
		return Counter{}, false, nil
	}

	return Counter{
		Count:   int(reply[0]),
		ResetAt: now.Add(time.Duration(reply[1]) * time.Millisecond),
	}, true, nil
}

func windowMillis(window time.Duration) int64 {
	ms := window.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return ms
}

type spanStarter interface {
	StartSpan(operationName string, opts ...opentracing.StartSpanOption) opentracing.Span
}

// startSpan starts a client span as child of the span in ctx, if any.
func startSpan(ctx context.Context, tracer spanStarter, name, storeType, key string) opentracing.Span {
	opts := []opentracing.StartSpanOption{opentracing.Tags{
		string(ext.Component): "gatekeeper",
		string(ext.SpanKind):  "client",
		"store":               storeType,
		"key":                 key,
	}}

	if parent := opentracing.SpanFromContext(ctx); parent != nil {
		opts = append(opts, opentracing.ChildOf(parent.Context()))
	}

	return tracer.StartSpan(fmt.Sprintf(name, storeType), opts...)
}
