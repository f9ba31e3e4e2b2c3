package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Generation metrics
	GenerationsTotal *prometheus.CounterVec
	GenerationTokens *prometheus.HistogramVec

	// Credit ledger metrics
	CreditsDeductedTotal  *prometheus.CounterVec
	DeductShortfallsTotal prometheus.Counter
	SettlementErrorsTotal prometheus.Counter
	RefillsTotal          *prometheus.CounterVec

	// Billing metrics
	WebhookEventsTotal *prometheus.CounterVec

	// Sweep metrics
	SweepDuration  prometheus.Histogram
	SweepUsersSeen prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kerna_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kerna_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		GenerationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kerna_generations_total",
				Help: "Total number of study-guide generations",
			},
			[]string{"model", "finish_reason"},
		),
		GenerationTokens: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kerna_generation_tokens",
				Help:    "Tokens consumed per generation",
				Buckets: []float64{100, 250, 500, 1000, 2000, 4096},
			},
			[]string{"model"},
		),
		CreditsDeductedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kerna_credits_deducted_total",
				Help: "Total credits deducted from user balances",
			},
			[]string{"model"},
		),
		DeductShortfallsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kerna_deduct_shortfalls_total",
				Help: "Deductions that found less balance than requested",
			},
		),
		SettlementErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kerna_settlement_errors_total",
				Help: "Post-generation settlements that failed; potential billing drift",
			},
		),
		RefillsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kerna_refills_total",
				Help: "Credit refills applied by reconciliation",
			},
			[]string{"kind"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kerna_webhook_events_total",
				Help: "Billing webhook events received",
			},
			[]string{"event_type", "status"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kerna_sweep_duration_seconds",
				Help:    "Duration of ledger maintenance sweeps",
				Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
			},
		),
		SweepUsersSeen: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kerna_sweep_users_total",
				Help: "Users reconciled by the maintenance sweep",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GenerationsTotal,
		m.GenerationTokens,
		m.CreditsDeductedTotal,
		m.DeductShortfallsTotal,
		m.SettlementErrorsTotal,
		m.RefillsTotal,
		m.WebhookEventsTotal,
		m.SweepDuration,
		m.SweepUsersSeen,
	)
	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so streamed responses keep working
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// HTTPMetricsMiddleware instruments requests. The route template, not the
// raw URL, is used as the path label to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint mounts /metrics on the router
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
