package logging

import (
	"context"
	"net/http"
	"sync"
	"time"
)

type accessFieldsKey struct{}

type accessFields struct {
	mu     sync.Mutex
	fields map[string]any
}

// AddAccessField attaches a field to the access log entry of the
// request that ctx belongs to. It is a no-op outside of a Handler.
func AddAccessField(ctx context.Context, key string, value any) {
	af, ok := ctx.Value(accessFieldsKey{}).(*accessFields)
	if !ok {
		return
	}

	af.mu.Lock()
	af.fields[key] = value
	af.mu.Unlock()
}

type handler struct {
	next http.Handler
	now  func() time.Time
}

// NewHandler wraps next and writes an access log entry for every
// request it serves.
func NewHandler(next http.Handler) http.Handler {
	return &handler{next: next, now: time.Now}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()

	af := &accessFields{fields: make(map[string]any)}
	r = r.WithContext(context.WithValue(r.Context(), accessFieldsKey{}, af))

	lw := &loggingWriter{writer: w}
	h.next.ServeHTTP(lw, r)

	if lw.code == 0 {
		lw.code = http.StatusOK
	}

	af.mu.Lock()
	additional := af.fields
	af.mu.Unlock()

	LogAccess(&AccessEntry{
		Request:      r,
		StatusCode:   lw.code,
		ResponseSize: lw.bytes,
		Duration:     h.now().Sub(start),
		RequestTime:  start,
	}, additional)
}
