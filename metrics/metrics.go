package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	KeyDecision      = "gatekeeper.decision.%s"
	KeyAllowed       = "gatekeeper.allowed"
	KeyBypassed      = "gatekeeper.bypassed"
	KeyStoreQuery    = "ratelimit.store.%s.%s"
	KeyStoreFailMode = "ratelimit.store.failmode.%s"
	KeyCSRFIssued    = "csrf.issued"
	KeyCSRFSwept     = "csrf.swept"
)

// Metrics is the interface implemented by the metrics backends.
type Metrics interface {
	MeasureSince(key string, start time.Time)
	IncCounter(key string)
	IncCounterBy(key string, value int64)
	UpdateGauge(key string, value float64)
	RegisterHandler(path string, handler *http.ServeMux)
}

// Kind is the type of the metrics backend.
type Kind int

const (
	UnkownKind Kind = iota
	CodaHaleKind
	PrometheusKind
	AllKind
)

func (k Kind) String() string {
	switch k {
	case AllKind:
		return "all"
	case CodaHaleKind:
		return "codahale"
	case PrometheusKind:
		return "prometheus"
	default:
		return "unknown"
	}
}

// ParseMetricsKind parses a string representation of a metrics kind,
// e.g. "codahale", "prometheus" or "codahale,prometheus".
func ParseMetricsKind(t string) Kind {
	var k Kind
	for _, s := range strings.Split(t, ",") {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "codahale":
			k |= CodaHaleKind
		case "prometheus":
			k |= PrometheusKind
		case "all":
			k |= AllKind
		}
	}
	return k
}

// Options for initializing metrics collection.
type Options struct {
	// Format selects the backend(s).
	Format Kind

	// Common prefix for the keys of the different collected metrics.
	// For Prometheus it is used as namespace.
	Prefix string

	// If set, Go runtime metrics are collected in addition to the
	// gatekeeper metrics.
	EnableRuntimeMetrics bool

	// If set, CodaHale timers use an exponentially decaying sample
	// instead of a uniform one.
	UseExpDecaySample bool

	// HistogramBuckets defines the Prometheus histogram buckets,
	// defaults to prometheus.DefBuckets.
	HistogramBuckets []float64

	// PrometheusRegistry is the registry to register the collectors
	// with. A new one is created if not set.
	PrometheusRegistry *prometheus.Registry
}

// Default is the metrics collector used by components that were not
// given one explicitly.
var Default Metrics = NewVoid()

// New returns the backend selected by Options.Format. Unknown formats
// result in the CodaHale backend.
func New(o Options) Metrics {
	switch o.Format {
	case AllKind:
		return NewAll(o)
	case PrometheusKind:
		return NewPrometheus(o)
	default:
		return NewCodaHale(o)
	}
}

// Init creates the configured backend and installs it as Default.
func Init(o Options) Metrics {
	m := New(o)
	Default = m
	return m
}

func applyDefaults(o Options) Options {
	if len(o.HistogramBuckets) == 0 {
		o.HistogramBuckets = prometheus.DefBuckets
	}
	return o
}
