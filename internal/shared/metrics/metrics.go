package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector exposed on /metrics.
var Registry = prometheus.NewRegistry()

var (
	factory = promauto.With(Registry)

	runsStarted = factory.NewCounter(prometheus.CounterOpts{
		Name: "rca_runs_started_total",
		Help: "Total incident analysis runs started.",
	})
	runsCompleted = factory.NewCounter(prometheus.CounterOpts{
		Name: "rca_runs_completed_total",
		Help: "Total incident analysis runs completed.",
	})
	runsFailed = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "rca_runs_failed_total",
		Help: "Total incident analysis runs failed, by error code.",
	}, []string{"code"})
	runDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "rca_run_duration_seconds",
		Help:    "Incident analysis run duration in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})
	stageDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rca_stage_duration_seconds",
		Help:    "Orchestration stage duration in seconds.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"stage", "outcome"})
	oracleCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "rca_oracle_calls_total",
		Help: "Total analysis oracle calls, by provider and outcome.",
	}, []string{"provider", "outcome"})
	retrieverCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "rca_retriever_calls_total",
		Help: "Total retriever calls, by corpus and outcome.",
	}, []string{"corpus", "outcome"})
	jobs = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "rca_worker_jobs_total",
		Help: "Worker queue messages, by result.",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IncRunsStarted increments the started counter.
func IncRunsStarted() { runsStarted.Inc() }

// IncRunsCompleted increments the completed counter.
func IncRunsCompleted() { runsCompleted.Inc() }

// IncRunsFailed increments the failed counter for an error code.
func IncRunsFailed(code string) { runsFailed.WithLabelValues(code).Inc() }

// ObserveRunDuration records a run duration in seconds.
func ObserveRunDuration(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	runDuration.Observe(seconds)
}

// ObserveStage records one orchestration stage execution.
func ObserveStage(stage, outcome string, seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	stageDuration.WithLabelValues(stage, outcome).Observe(seconds)
}

// IncOracleCalls counts a provider call.
func IncOracleCalls(provider, outcome string) {
	oracleCalls.WithLabelValues(provider, outcome).Inc()
}

// IncRetrieverCalls counts a retriever call.
func IncRetrieverCalls(corpus, outcome string) {
	retrieverCalls.WithLabelValues(corpus, outcome).Inc()
}

// IncJobsReceived counts a message pulled from the queue.
func IncJobsReceived() { jobs.WithLabelValues("received").Inc() }

// IncJobsCompleted counts a message processed successfully.
func IncJobsCompleted() { jobs.WithLabelValues("completed").Inc() }

// IncJobsFailed counts a message whose processing failed.
func IncJobsFailed() { jobs.WithLabelValues("failed").Inc() }

// IncJobsDeletedUnrecoverable counts a malformed message removed from the queue.
func IncJobsDeletedUnrecoverable() { jobs.WithLabelValues("deleted_unrecoverable").Inc() }

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
