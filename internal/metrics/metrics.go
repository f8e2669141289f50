// Package metrics exposes Prometheus instruments for the generation pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage names used as the "stage" label.
const (
	StageEnrich   = "enrich"
	StageGenerate = "generate"
	StageValidate = "validate"
	StageDiagnose = "diagnose"
	StagePublish  = "publish"
)

var (
	// AttemptsTotal counts finished attempts by result.
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scenegen",
		Name:      "attempts_total",
		Help:      "Generate-validate attempts by result",
	}, []string{"result"})

	// GenerationsTotal counts finished requests by outcome.
	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scenegen",
		Name:      "generations_total",
		Help:      "Generation requests by terminal outcome",
	}, []string{"outcome"})

	// AttemptsPerGeneration records how many attempts each request needed.
	AttemptsPerGeneration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scenegen",
		Name:      "attempts_per_generation",
		Help:      "Number of attempts used by a generation request",
		Buckets:   []float64{1, 2, 3, 4, 5, 6, 8},
	})

	// StageDuration records external call latency per pipeline stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scenegen",
		Name:      "stage_duration_seconds",
		Help:      "Latency of external calls made by the pipeline",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	// StageErrors counts infrastructure errors per stage.
	StageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scenegen",
		Name:      "stage_errors_total",
		Help:      "Infrastructure errors returned by pipeline collaborators",
	}, []string{"stage"})
)

// ObserveStage records the latency of one stage call that started at start.
func ObserveStage(stage string, start time.Time, err error) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		StageErrors.WithLabelValues(stage).Inc()
	}
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
