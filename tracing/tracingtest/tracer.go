/*
Package tracingtest provides an opentracing tracer that records the
spans of the store queries in tests.
*/
package tracingtest

import (
	"github.com/opentracing/opentracing-go/mocktracer"
)

// Tracer records started and finished spans.
type Tracer struct {
	*mocktracer.MockTracer
}

func NewTracer() *Tracer {
	return &Tracer{MockTracer: mocktracer.New()}
}

// FindSpan returns the first finished span with the operation name or
// nil.
func (t *Tracer) FindSpan(operationName string) *mocktracer.MockSpan {
	if s := t.FindAllSpans(operationName); len(s) > 0 {
		return s[0]
	}
	return nil
}

// FindAllSpans returns the finished spans with the operation name.
func (t *Tracer) FindAllSpans(operationName string) []*mocktracer.MockSpan {
	var spans []*mocktracer.MockSpan
	for _, s := range t.FinishedSpans() {
		if s.OperationName == operationName {
			spans = append(spans, s)
		}
	}
	return spans
}
