// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	AIPipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_pipeline_runs_total",
			Help: "AI conversation pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	AIPipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_pipeline_duration_seconds",
			Help:    "AI conversation pipeline duration by step",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"step"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "LLM tokens consumed by model and kind",
		},
		[]string{"model", "kind"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound gateway webhook events by event type and result",
		},
		[]string{"event", "result"},
	)

	RealtimeChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_channels",
			Help: "Open shared realtime channels",
		},
	)

	RealtimeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_subscribers",
			Help: "Logical subscribers across all realtime channels",
		},
	)

	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Realtime events published and delivered",
		},
		[]string{"direction"},
	)

	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Cache lookups and evictions by cache and result",
		},
		[]string{"cache", "result"},
	)

	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_runs_total",
			Help: "Maintenance job runs by job and status",
		},
		[]string{"job", "status"},
	)

	SchedulerAffected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_rows_affected_total",
			Help: "Rows changed by maintenance jobs",
		},
		[]string{"job"},
	)
)
