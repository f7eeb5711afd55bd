package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planlens_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "planlens_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)
	planExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planlens_plan_executions_total",
			Help: "Total number of executed plans by query type and outcome.",
		},
		[]string{"query_type", "outcome"},
	)
	planExecutionLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "planlens_plan_execution_latency_ms",
			Help:    "Plan execution latency in milliseconds.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"query_type"},
	)
	planOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planlens_plan_outcomes_total",
			Help: "Plan parts that were not applied as written, by stage and status.",
		},
		[]string{"stage", "status"},
	)
	datasetUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planlens_dataset_uploads_total",
			Help: "Total number of dataset uploads by format and result.",
		},
		[]string{"format", "result"},
	)
	datasetUploadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "planlens_dataset_upload_bytes_total",
			Help: "Total bytes accepted by dataset uploads.",
		},
	)
	datasetLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planlens_dataset_loads_total",
			Help: "Dataset loads by source (cache or store).",
		},
		[]string{"source"},
	)
	datasetDecodeLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "planlens_dataset_decode_latency_ms",
			Help:    "Dataset decode latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"format"},
	)
	plannerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planlens_planner_requests_total",
			Help: "LLM planner requests by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		planExecutionsTotal,
		planExecutionLatencyMs,
		planOutcomesTotal,
		datasetUploadsTotal,
		datasetUploadBytes,
		datasetLoadsTotal,
		datasetDecodeLatencyMs,
		plannerRequestsTotal,
	)
}

func ObservePlanExecution(queryType, outcome string, elapsed time.Duration) {
	if queryType == "" {
		queryType = "unknown"
	}
	planExecutionsTotal.WithLabelValues(queryType, outcome).Inc()
	planExecutionLatencyMs.WithLabelValues(queryType).Observe(float64(elapsed.Microseconds()) / 1000)
}

func ObservePlanOutcome(stage, status string) {
	planOutcomesTotal.WithLabelValues(stage, status).Inc()
}

func ObserveUpload(format string, bytes int64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	datasetUploadsTotal.WithLabelValues(format, result).Inc()
	if err == nil && bytes > 0 {
		datasetUploadBytes.Add(float64(bytes))
	}
}

func ObserveDatasetLoad(source string) {
	datasetLoadsTotal.WithLabelValues(source).Inc()
}

func ObserveDecode(format string, elapsed time.Duration) {
	datasetDecodeLatencyMs.WithLabelValues(format).Observe(float64(elapsed.Milliseconds()))
}

func ObservePlannerRequest(outcome string) {
	plannerRequestsTotal.WithLabelValues(outcome).Inc()
}
