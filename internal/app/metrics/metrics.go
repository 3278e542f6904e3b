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
			Namespace: "quartermaster",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quartermaster",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quartermaster",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quartermaster",
			Subsystem: "recruitment",
			Name:      "decisions_total",
			Help:      "Total number of application state transitions.",
		},
		[]string{"outcome"},
	)

	outboxDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quartermaster",
			Subsystem: "outbox",
			Name:      "dispatches_total",
			Help:      "Total number of outbox event dispatch attempts.",
		},
		[]string{"kind", "result"},
	)

	outboxDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quartermaster",
			Subsystem: "outbox",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of outbox event dispatches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"kind"},
	)

	outboxDead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quartermaster",
			Subsystem: "outbox",
			Name:      "dead_letters_total",
			Help:      "Total number of outbox events moved to the dead-letter state.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		decisions,
		outboxDispatches,
		outboxDispatchDuration,
		outboxDead,
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

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordDecision counts a state transition by outcome status.
func RecordDecision(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	decisions.WithLabelValues(outcome).Inc()
}

// RecordOutboxDispatch records one dispatch attempt for an event kind.
func RecordOutboxDispatch(kind string, duration time.Duration, success bool) {
	if kind == "" {
		kind = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	result := "failure"
	if success {
		result = "success"
	}
	outboxDispatches.WithLabelValues(kind, result).Inc()
	outboxDispatchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordDeadLetter counts an event entering the dead-letter state.
func RecordDeadLetter() {
	outboxDead.Inc()
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

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "applications":
		if len(parts) == 1 {
			return "/applications"
		}
		if len(parts) == 2 {
			return "/applications/:id"
		}
		return "/applications/:id/" + parts[2]
	case "applicants":
		if len(parts) == 1 {
			return "/applicants"
		}
		if len(parts) == 2 {
			return "/applicants/:id"
		}
		return "/applicants/:id/" + parts[2]
	case "outbox":
		if len(parts) >= 2 && parts[1] != "dead" {
			if len(parts) == 3 {
				return "/outbox/:id/" + parts[2]
			}
			return "/outbox/:id"
		}
		return "/" + strings.Join(parts, "/")
	default:
		return "/" + parts[0]
	}
}
