// Package metrics exports Prometheus metrics about boot sequences.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mkock/bootseq/v3"
)

const namespace = "bootseq"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Observer is a bootseq.Observer recording phase durations and outcomes.
type Observer struct {
	duration   *prometheus.HistogramVec
	total      *prometheus.CounterVec
	inProgress prometheus.Gauge
}

// New registers the phase metrics with reg and returns an Observer updating them. A nil reg uses
// prometheus.DefaultRegisterer. New panics if the metrics are already registered with reg.
func New(reg prometheus.Registerer) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Observer{
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Time taken by a boot phase to signal completion",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4m
			},
			[]string{"kind", "result"},
		),
		total: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phases_total",
				Help:      "Total number of boot phases dispatched",
			},
			[]string{"kind", "result"},
		),
		inProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "phase_in_progress",
				Help:      "Number of boot phases dispatched that have not yet signalled completion",
			},
		),
	}
}

// PhaseStarted implements bootseq.Observer.
func (o *Observer) PhaseStarted(ctx context.Context, _ bootseq.PhaseInfo) context.Context {
	o.inProgress.Inc()
	return ctx
}

// PhaseFinished implements bootseq.Observer.
func (o *Observer) PhaseFinished(_ context.Context, info bootseq.PhaseInfo, err error, elapsed time.Duration) {
	o.inProgress.Dec()

	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	o.duration.WithLabelValues(info.Kind.String(), result).Observe(elapsed.Seconds())
	o.total.WithLabelValues(info.Kind.String(), result).Inc()
}

// Verify interface compliance.
var _ bootseq.Observer = (*Observer)(nil)
