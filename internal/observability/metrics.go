package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlpilot_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern. Streamed asks land in the upper buckets.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route", "status"},
	)

	askRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_ask_requests_total",
			Help: "Total number of ask requests by outcome.",
		},
		[]string{"outcome"},
	)
	askLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlpilot_ask_latency_ms",
			Help:    "End-to-end ask latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 20000, 60000},
		},
	)
	askCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_ask_cache_lookups_total",
			Help: "Semantic cache lookups by result.",
		},
		[]string{"result"},
	)
	generationToolRounds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlpilot_generation_tool_rounds",
			Help:    "Number of model round-trips needed to reach the terminal tool call.",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
		[]string{"task"},
	)
	generationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_generation_failures_total",
			Help: "Generation failures by kind.",
		},
		[]string{"kind"},
	)
	validationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlpilot_validation_failures_total",
			Help: "Total number of generated statements that failed validation.",
		},
	)
	repairAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_repair_attempts_total",
			Help: "Repair attempts by result.",
		},
		[]string{"result"},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_executions_total",
			Help: "Statement executions by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
	buildRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_build_runs_total",
			Help: "Knowledge-base build runs by final status.",
		},
		[]string{"status"},
	)
	buildsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlpilot_builds_in_flight",
			Help: "Knowledge-base builds currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		askRequestsTotal,
		askLatencyMs,
		askCacheLookupsTotal,
		generationToolRounds,
		generationFailuresTotal,
		validationFailuresTotal,
		repairAttemptsTotal,
		executionsTotal,
		buildRunsTotal,
		buildsInFlight,
	)
}

func ObserveAsk(outcome string, elapsed time.Duration) {
	askRequestsTotal.WithLabelValues(outcome).Inc()
	askLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveCacheLookup(hit bool) {
	if hit {
		askCacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	askCacheLookupsTotal.WithLabelValues("miss").Inc()
}

func ObserveToolRounds(task string, rounds int) {
	if rounds < 0 {
		rounds = 0
	}
	generationToolRounds.WithLabelValues(task).Observe(float64(rounds))
}

func IncrementGenerationFailure(kind string) {
	generationFailuresTotal.WithLabelValues(kind).Inc()
}

func IncrementValidationFailure() {
	validationFailuresTotal.Inc()
}

func ObserveRepair(succeeded bool) {
	if succeeded {
		repairAttemptsTotal.WithLabelValues("repaired").Inc()
		return
	}
	repairAttemptsTotal.WithLabelValues("still_invalid").Inc()
}

func ObserveExecution(mode, outcome string) {
	executionsTotal.WithLabelValues(mode, outcome).Inc()
}

func BuildStarted() {
	buildsInFlight.Inc()
}

func BuildFinished(status string) {
	buildsInFlight.Dec()
	buildRunsTotal.WithLabelValues(status).Inc()
}
