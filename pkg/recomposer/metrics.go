package recomposer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("recompose.recomposer")

var (
	passesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recompose_passes_total",
		Help: "Recomposition passes run",
	}, []string{"recomposer"})

	recomposedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recompose_compositions_recomposed_total",
		Help: "Compositions recomposed by a pass",
	}, []string{"recomposer"})

	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recompose_scope_executions_total",
		Help: "Restart scope bodies executed",
	}, []string{"recomposer"})

	conflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recompose_apply_conflicts_total",
		Help: "Composition snapshots that failed to apply",
	}, []string{"recomposer"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recompose_composition_errors_total",
		Help: "Composable failures and disposed compositions",
	}, []string{"recomposer"})

	passDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recompose_pass_duration_seconds",
		Help:    "Duration of recomposition passes",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50us to ~400ms
	}, []string{"recomposer"})

	compositionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "recompose_compositions",
		Help: "Compositions registered with a recomposer",
	}, []string{"recomposer"})
)
