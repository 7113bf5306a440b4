package ratelimit

import (
	"context"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"

	"github.com/dojopool/gatekeeper/tracing/tracingtest"
)

func TestStartSpan(t *testing.T) {
	tracer := tracingtest.NewTracer()

	startSpan(context.Background(), tracer, peekSpanName, valkeyStoreType, "ratelimit:/api/games:1.2.3.4").Finish()

	parent := tracer.StartSpan("request")
	ctx := opentracing.ContextWithSpan(context.Background(), parent)
	startSpan(ctx, tracer, incrementSpanName, redisStoreType, "ratelimit:auth:1.2.3.4").Finish()
	parent.Finish()

	span := tracer.FindSpan("redis_increment")
	if span == nil {
		t.Fatal("span not found")
	}

	if got := span.Tag("key"); got != "ratelimit:auth:1.2.3.4" {
		t.Errorf("unexpected key tag: %v", got)
	}
	if got := span.Tag("store"); got != "redis" {
		t.Errorf("unexpected store tag: %v", got)
	}
	if span.ParentID != parent.(*mocktracer.MockSpan).SpanContext.SpanID {
		t.Error("span is not a child of the request span")
	}

	root := tracer.FindSpan("valkey_peek")
	if root == nil {
		t.Fatal("span not found")
	}
	if root.ParentID != 0 {
		t.Errorf("unexpected parent: %d", root.ParentID)
	}
}
