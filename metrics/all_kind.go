package metrics

import (
	"net/http"
	"strings"
	"time"
)

const codaHaleMediaType = "application/codahale+json"

// All collects every metric in both backends. Its handler serves
// the Prometheus format unless CodaHale is asked for, by the
// application/codahale+json media type or by ?format=codahale.
type All struct {
	prometheus *Prometheus
	codaHale   *CodaHale
}

func NewAll(o Options) *All {
	return &All{
		prometheus: NewPrometheus(o),
		codaHale:   NewCodaHale(o),
	}
}

func (a *All) MeasureSince(key string, start time.Time) {
	a.prometheus.MeasureSince(key, start)
	a.codaHale.MeasureSince(key, start)
}

func (a *All) IncCounter(key string) {
	a.IncCounterBy(key, 1)
}

func (a *All) IncCounterBy(key string, value int64) {
	a.prometheus.IncCounterBy(key, value)
	a.codaHale.IncCounterBy(key, value)
}

func (a *All) UpdateGauge(key string, v float64) {
	a.prometheus.UpdateGauge(key, v)
	a.codaHale.UpdateGauge(key, v)
}

func (a *All) RegisterHandler(path string, mux *http.ServeMux) {
	prom := a.prometheus.getHandler()
	coda := a.codaHale.getHandler(path)

	mux.Handle(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wantsCodaHale(r) {
			coda.ServeHTTP(w, r)
			return
		}
		prom.ServeHTTP(w, r)
	}))
}

func wantsCodaHale(r *http.Request) bool {
	return r.URL.Query().Get("format") == CodaHaleKind.String() ||
		strings.Contains(r.Header.Get("Accept"), codaHaleMediaType)
}
