package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the ledger. A private
// registry keeps the /metrics output limited to what we register.
type Metrics struct {
	registry *prometheus.Registry

	LedgerOps        *prometheus.CounterVec
	LedgerErrors     *prometheus.CounterVec
	VersionConflicts prometheus.Counter
	RequestDuration  *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		LedgerOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "farmledger_operations_total",
			Help: "Ledger operations by type and outcome.",
		}, []string{"operation", "outcome"}),
		LedgerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "farmledger_errors_total",
			Help: "Ledger errors by kind.",
		}, []string{"kind"}),
		VersionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "farmledger_version_conflicts_total",
			Help: "Optimistic concurrency conflicts surfaced to callers.",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "farmledger_http_request_duration_seconds",
			Help:    "HTTP request latency by route and method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOp records one ledger operation with its outcome label.
func (m *Metrics) ObserveOp(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LedgerOps.WithLabelValues(operation, outcome).Inc()
}

// ObserveError counts one rejected ledger operation by error kind.
func (m *Metrics) ObserveError(kind string) {
	m.LedgerErrors.WithLabelValues(kind).Inc()
}

// RequestMetrics records request latency per method and route pattern. The
// pattern is read after serving so path parameters stay unexpanded
// (/api/debts/{id}, not one series per debt).
func RequestMetrics(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)

			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			if route == "" {
				route = "unmatched"
			}
			m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
