package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetricsKind(t *testing.T) {
	for _, tt := range []struct {
		input string
		want  Kind
	}{
		{"codahale", CodaHaleKind},
		{"prometheus", PrometheusKind},
		{"codahale,prometheus", AllKind},
		{"all", AllKind},
		{"Prometheus ", PrometheusKind},
		{"", UnkownKind},
		{"statsd", UnkownKind},
	} {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMetricsKind(tt.input))
		})
	}
}

func TestNewSelectsBackend(t *testing.T) {
	assert.IsType(t, &Prometheus{}, New(Options{Format: PrometheusKind}))
	assert.IsType(t, &CodaHale{}, New(Options{Format: CodaHaleKind}))
	assert.IsType(t, &All{}, New(Options{Format: AllKind}))
	assert.IsType(t, &CodaHale{}, New(Options{}))
}

func TestPrometheusDecisions(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(Options{PrometheusRegistry: reg})

	p.IncCounter(KeyAllowed)
	p.IncCounter(KeyAllowed)
	p.IncCounter("gatekeeper.decision.rate_limited")
	p.IncCounterBy("other", 3)
	p.UpdateGauge("redis.totalconns", 7)
	p.MeasureSince("ratelimit.store.memory.success", time.Now().Add(-time.Millisecond))

	assert.Equal(t, 2.0, testutil.ToFloat64(p.decisionM.WithLabelValues("allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.decisionM.WithLabelValues("rate_limited")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.customCounterM.WithLabelValues("other")))
	assert.Equal(t, 7.0, testutil.ToFloat64(p.customGaugeM.WithLabelValues("redis.totalconns")))
	assert.Equal(t, 1, testutil.CollectAndCount(p.customHistogramM))
}

func TestPrometheusHandler(t *testing.T) {
	p := NewPrometheus(Options{Prefix: "test."})
	p.IncCounter(KeyAllowed)

	mux := http.NewServeMux()
	p.RegisterHandler("/metrics", mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_decision_total{outcome="allowed"} 1`)
}

func TestCodaHaleHandler(t *testing.T) {
	c := NewCodaHale(Options{})
	c.IncCounter("gatekeeper.allowed")
	c.UpdateGauge("redis.idleconns", 2)
	c.MeasureSince("ratelimit.store.memory.success", time.Now())

	mux := http.NewServeMux()
	c.RegisterHandler("/metrics/", mux)

	get := func(path string) (*http.Response, map[string]map[string]any) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		rsp := rec.Result()
		var data map[string]map[string]any
		if rsp.StatusCode == http.StatusOK {
			b, _ := io.ReadAll(rsp.Body)
			require.NoError(t, json.Unmarshal(b, &data))
		}
		return rsp, data
	}

	t.Run("all", func(t *testing.T) {
		rsp, data := get("/metrics/")
		require.Equal(t, http.StatusOK, rsp.StatusCode)
		assert.Contains(t, data["counters"], "gatekeeper.allowed")
		assert.Contains(t, data["gauges"], "redis.idleconns")
		assert.Contains(t, data["timers"], "ratelimit.store.memory.success")
	})

	t.Run("filtered", func(t *testing.T) {
		rsp, data := get("/metrics/redis")
		require.Equal(t, http.StatusOK, rsp.StatusCode)
		assert.Len(t, data, 1)
		assert.Contains(t, data["gauges"], "redis.idleconns")
	})

	t.Run("not found", func(t *testing.T) {
		rsp, _ := get("/metrics/missing")
		assert.Equal(t, http.StatusNotFound, rsp.StatusCode)
	})

	t.Run("post not allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("POST", "/metrics/", strings.NewReader("")))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestAllHandlerSelectsFormat(t *testing.T) {
	a := NewAll(Options{})
	a.IncCounter(KeyAllowed)

	mux := http.NewServeMux()
	a.RegisterHandler("/metrics", mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "gatekeeper_decision_total")

	req := httptest.NewRequest("GET", "/metrics", nil)
	req.Header.Set("Accept", "application/codahale+json")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"gatekeeper.allowed"`)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics?format=codahale", nil))
	assert.Contains(t, rec.Body.String(), `"gatekeeper.allowed"`)
}

func TestVoidDropsEverything(t *testing.T) {
	v := NewVoid()
	v.IncCounter("x")
	v.UpdateGauge("y", 1)
	v.MeasureSince("z", time.Now())

	assert.Equal(t, int64(0), v.getCounter("x").Count())
}
