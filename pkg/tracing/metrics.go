package tracing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("slice_tracer.tracing")

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slice_tracer_runs_total",
		Help: "Trace runs by outcome code",
	}, []string{"outcome"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slice_tracer_run_duration_seconds",
		Help:    "End-to-end trace run duration",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	solverDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slice_tracer_solver_duration_seconds",
		Help:    "Solver subprocess wall time",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	problemVariables = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slice_tracer_problem_variables",
		Help:    "Variables per serialized problem",
		Buckets: prometheus.ExponentialBuckets(8, 4, 10),
	})

	problemGroups = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slice_tracer_problem_groups",
		Help:    "Exclusivity groups per serialized problem",
		Buckets: prometheus.ExponentialBuckets(8, 4, 10),
	})
)
