package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "audit_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "audit_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "audit_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ledgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "audit_layer",
			Subsystem: "credits",
			Name:      "operations_total",
			Help:      "Ledger operations by kind and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	creditsMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "audit_layer",
			Subsystem: "credits",
			Name:      "amount_total",
			Help:      "Credits debited, transferred or granted.",
		},
		[]string{"operation"},
	)

	gateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "audit_layer",
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Report access decisions by reason.",
		},
		[]string{"reason"},
	)

	lifecycleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "audit_layer",
			Subsystem: "reports",
			Name:      "transitions_total",
			Help:      "Report status transitions by target status and outcome.",
		},
		[]string{"to", "outcome"},
	)

	statsRefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "audit_layer",
			Subsystem: "stats",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of audit date statistics refresh runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerOperations,
		creditsMoved,
		gateDecisions,
		lifecycleTransitions,
		statsRefreshDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordLedgerOperation counts a ledger call. amount is added to the moved
// total only on success.
func RecordLedgerOperation(operation string, amount int64, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	ledgerOperations.WithLabelValues(operation, outcome).Inc()
	if err == nil && amount > 0 {
		creditsMoved.WithLabelValues(operation).Add(float64(amount))
	}
}

// RecordGateDecision counts an access decision.
func RecordGateDecision(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	gateDecisions.WithLabelValues(reason).Inc()
}

// RecordTransition counts a lifecycle transition attempt.
func RecordTransition(to string, applied bool) {
	outcome := "rejected"
	if applied {
		outcome = "applied"
	}
	lifecycleTransitions.WithLabelValues(to, outcome).Inc()
}

// RecordStatsRefresh observes a refresher run.
func RecordStatsRefresh(duration time.Duration) {
	statsRefreshDuration.Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses ids so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "reports", "issues", "dates":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		if parts[1] == "feedback" {
			return "/" + parts[0] + "/feedback"
		}
		out := "/" + parts[0] + "/:id"
		if len(parts) > 2 {
			out += "/" + parts[2]
		}
		return out
	default:
		return "/" + strings.Join(parts, "/")
	}
}
