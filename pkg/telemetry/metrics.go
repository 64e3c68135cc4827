package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var Metrics = struct {
	PipelineRuns      *prometheus.CounterVec
	PipelineDuration  prometheus.Histogram
	ActivePipelines   prometheus.Gauge
	StageDuration     *prometheus.HistogramVec
	StageFailures     *prometheus.CounterVec
	StageRetries      *prometheus.CounterVec
	ChunksRelayed     *prometheus.CounterVec
	DirectoryLookups  *prometheus.CounterVec
	DirectoryRegister *prometheus.CounterVec
	WorkerTasks       *prometheus.CounterVec
	DecodeShapes      *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
	LLMRequestsTotal  *prometheus.CounterVec
	LLMLatency        *prometheus.HistogramVec
}{
	PipelineRuns: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckhand",
		Name:      "pipeline_runs_total",
		Help:      "Pipeline runs by outcome (completed, failed).",
	}, []string{"outcome"}),

	PipelineDuration: promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "deckhand",
		Name:      "pipeline_duration_seconds",
		Help:      "End-to-end pipeline duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}),

	ActivePipelines: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "deckhand",
		Name:      "active_pipelines",
		Help:      "Number of pipeline runs currently in flight.",
	}),

	StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "deckhand",
		Name:      "stage_duration_seconds",
		Help:      "Stage duration in seconds, lookup included.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"stage"}),

	StageFailures: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckhand",
		Name:      "stage_failures_total",
		Help:      "Stage failures by stage and error kind.",
	}, []string{"stage", "kind"}),

	StageRetries: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckhand",
		Name:      "stage_retries_total",
		Help:      "Stage invocation retries by stage.",
	}, []string{"stage"}),

	ChunksRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckhand",
		Name:      "chunks_relayed_total",
		Help:      "Worker status chunks relayed to callers, by stage.",
	}, []string{"stage"}),

	DirectoryLookups: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckhand",
		Name:      "directory_lookups_total",
		Help:      "Directory lookups by capability and result (hit, miss).",
	}, []string{"capability", "result"}),

	DirectoryRegister: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckhand",
		Name:      "directory_registrations_total",
		Help:      "Directory registrations by capability.",
	}, []string{"capability"}),

	WorkerTasks: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckhand",
		Name:      "worker_tasks_total",
		Help:      "Tasks handled by workers, by worker and status.",
	}, []string{"worker", "status"}),

	DecodeShapes: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckhand",
		Name:      "consumer_decoded_chunks_total",
		Help:      "Chunks decoded by the consumer, by matched shape.",
	}, []string{"shape"}),

	EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckhand",
		Name:      "events_published_total",
		Help:      "Pipeline transition events published, by sink and status.",
	}, []string{"sink", "status"}),

	LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckhand",
		Name:      "llm_requests_total",
		Help:      "Total LLM API requests by provider, model and status.",
	}, []string{"provider", "model", "status"}),

	LLMLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "deckhand",
		Name:      "llm_latency_seconds",
		Help:      "LLM request latency in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"provider", "model"}),
}
