package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry - local registry so tests and multiple servers never collide on the global one
var Registry = prometheus.NewRegistry()

var (
	scenesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyme_scenes_total",
			Help: "Scenes processed, partitioned by provider and final status.",
		},
		[]string{"provider", "status"},
	)
	sceneDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyme_scene_generation_seconds",
			Help:    "Wall time of one scene generation including upload.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider"},
	)
	uploadFailures = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "storyme_storage_upload_failures_total",
			Help: "Inline images that could not be uploaded and were returned as data URLs.",
		},
	)
	rateLimitDenials = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyme_rate_limit_denials_total",
			Help: "Requests refused by the image quota, partitioned by endpoint.",
		},
		[]string{"endpoint"},
	)
	providerDegraded = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "storyme_provider_fallback_total",
			Help: "Requests for gemini served by flux because gemini is not configured.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func ObserveScene(provider, status string, elapsed time.Duration) {
	scenesTotal.WithLabelValues(provider, status).Inc()
	sceneDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func UploadFailed() {
	uploadFailures.Inc()
}

func RateLimited(endpoint string) {
	rateLimitDenials.WithLabelValues(endpoint).Inc()
}

func ProviderDegraded() {
	providerDegraded.Inc()
}

// Handler - GET /metrics
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
