package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forecast_runs_total",
		Help: "Total number of forecast runs by final status",
	}, []string{"status"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "forecast_run_duration_seconds",
		Help:    "Wall time of a full forecast run",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forecast_stage_duration_seconds",
		Help:    "Latency of a single pipeline stage",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	StageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forecast_stage_failures_total",
		Help: "Total number of pipeline stage failures",
	}, []string{"stage", "kind"})

	ProductOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forecast_product_outcomes_total",
		Help: "Total number of per-product outcomes",
	}, []string{"status"})

	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forecast_actions_total",
		Help: "Total number of actions issued to the write sink",
	}, []string{"action"})

	PredictedDemand = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "forecast_predicted_demand_units",
		Help:    "Distribution of predicted demand per product",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

// ObserveStage records the duration of a stage and counts it as failed when err is non-nil.
func ObserveStage(stage domain.Stage, elapsed time.Duration, err error) {
	StageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
	if err != nil {
		StageFailuresTotal.WithLabelValues(string(stage), domain.ErrorKind(err)).Inc()
	}
}

// ObserveRun records the final state of a run report.
func ObserveRun(report *domain.RunReport, elapsed time.Duration) {
	RunsTotal.WithLabelValues(string(report.Status)).Inc()
	RunDuration.Observe(elapsed.Seconds())
	for _, o := range report.Outcomes {
		ProductOutcomesTotal.WithLabelValues(string(o.Status)).Inc()
		if o.PredictedDemand != nil {
			PredictedDemand.Observe(*o.PredictedDemand)
		}
	}
}
