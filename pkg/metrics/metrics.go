// Package metrics keeps an in-process set of prometheus counters and
// histograms describing a build invocation, dumped in text format on
// exit rather than served over HTTP.
package metrics

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/replicate/buildahutil/pkg/bherrors"
)

const namespace = "buildahutil"

// Outcome labels a completed stage's StagesTotal increment.
type Outcome string

const (
	OutcomeBuilt   Outcome = "built"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Metrics is a per-invocation registry, not the global default one, so
// a single process can run a build and dump a clean snapshot without
// picking up metrics registered by unrelated packages.
type Metrics struct {
	registry *prometheus.Registry

	StagesTotal   *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	ArchiveBytes  *prometheus.HistogramVec
}

// New registers a fresh set of metrics against a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		StagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_total",
				Help:      "Number of stages processed, by outcome.",
			},
			[]string{"outcome"},
		),

		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Wall-clock duration of each stage's run, by stage name.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"stage"},
		),

		ArchiveBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "archive_bytes",
				Help:      "Size in bytes of artifact archives produced, by stage name.",
				Buckets:   prometheus.ExponentialBuckets(1<<20, 4, 8),
			},
			[]string{"stage"},
		),
	}
}

// RecordStage records a completed stage's outcome and duration.
func (m *Metrics) RecordStage(stage string, outcome Outcome, seconds float64) {
	m.StagesTotal.WithLabelValues(string(outcome)).Inc()
	if outcome == OutcomeBuilt {
		m.StageDuration.WithLabelValues(stage).Observe(seconds)
	}
}

// RecordArchiveSize records a produced archive's size.
func (m *Metrics) RecordArchiveSize(stage string, bytes int64) {
	m.ArchiveBytes.WithLabelValues(stage).Observe(float64(bytes))
}

// Dump writes a Prometheus text-format snapshot to path, creating it if
// necessary.
func (m *Metrics) Dump(path string) error {
	families, err := m.registry.Gather()
	if err != nil {
		return bherrors.Config("failed to gather metrics: %s", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return bherrors.Config("failed to create %s: %s", path, err)
	}
	defer f.Close()

	enc := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			return bherrors.Config("failed to encode metrics: %s", err)
		}
	}
	return nil
}
