package usecase

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"omni-library/internal/normalize"
)

// Registry holds every metric the engine records. The local HTTP server
// exposes it at /metrics.
var Registry = prometheus.NewRegistry()

var (
	normalizeOutcomes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_library_normalize_outcomes_total",
			Help: "Model replies by the path that produced a renderable update.",
		},
		[]string{"outcome"},
	)
	backendRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_library_backend_requests_total",
			Help: "Requests to the text, image and moderation backends.",
		},
		[]string{"backend", "kind", "status"},
	)
	backendDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omni_library_backend_request_duration_seconds",
			Help:    "Backend request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "kind"},
	)
	turnsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "omni_library_turns_total",
			Help: "Player turns by result.",
		},
		[]string{"status"},
	)
)

const (
	kindText       = "text"
	kindImage      = "image"
	kindModeration = "moderation"
)

func observeBackend(backend, kind string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	backendRequests.WithLabelValues(backend, kind, status).Inc()
	backendDuration.WithLabelValues(backend, kind).Observe(time.Since(started).Seconds())
}

func observeOutcome(o normalize.Outcome) {
	normalizeOutcomes.WithLabelValues(string(o)).Inc()
}

func observeTurn(status string) {
	turnsTotal.WithLabelValues(status).Inc()
}
