// Package metrics exposes Prometheus collectors for form activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeNoFile     = "no_file"
	OutcomeSuperseded = "superseded"
)

var (
	MountedForms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "predictform",
		Subsystem: "forms",
		Name:      "mounted",
		Help:      "Number of currently mounted forms",
	})
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "predictform",
		Subsystem: "forms",
		Name:      "submissions_total",
		Help:      "Submissions by outcome",
	}, []string{"outcome"})
	PredictDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "predictform",
		Subsystem: "predict",
		Name:      "request_duration_seconds",
		Help:      "Latency of outbound prediction requests",
		Buckets:   prometheus.DefBuckets,
	})
)

// ObserveSubmission records one resolved submission.
func ObserveSubmission(outcome string, took time.Duration) {
	SubmissionsTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess || outcome == OutcomeFailure {
		PredictDuration.Observe(took.Seconds())
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
