package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions       prometheus.Gauge
	SessionEvents        *prometheus.CounterVec
	ChatRequests         *prometheus.CounterVec
	TruncatedGenerations prometheus.Counter
	QueueWait            prometheus.Histogram
	GenerationLatency    prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live tutoring sessions held in memory.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		ChatRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat requests by outcome.",
		}, []string{"outcome"}),
		TruncatedGenerations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncated_generations_total",
			Help:      "Generations stopped by the token ceiling before a natural stop.",
		}),
		QueueWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_queue_wait_ms",
			Help:      "Time spent waiting on the inference gate in milliseconds.",
			Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000, 15000, 60000},
		}),
		GenerationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_ms",
			Help:      "Model compute time per generation in milliseconds.",
			Buckets:   []float64{100, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveQueueWait(d time.Duration) {
	m.QueueWait.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageQueueWait, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveGeneration(d time.Duration) {
	m.GenerationLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageGenerate, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveTurnTotal(d time.Duration) {
	m.stages.Observe(StageTurnTotal, float64(d.Milliseconds()))
}

// SnapshotStages returns the rolling-window latency stats served on the perf
// endpoint.
func (m *Metrics) SnapshotStages() StageSnapshot {
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
