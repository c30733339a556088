package contentarea

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Draft metrics
	StagedWrites    *prometheus.CounterVec
	DroppedWrites   prometheus.Counter
	Reconciliations prometheus.Counter
	Checkpoints     prometheus.Counter
	ParseFailures   prometheus.Counter

	// Render metrics
	RecursionHalts *prometheus.CounterVec
	Projections    *prometheus.CounterVec
}

// NewMetrics builds the collectors. A nil registerer creates them without
// registering, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		StagedWrites: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentarea_staged_writes_total",
				Help: "Meta field edits staged into the entity store",
			},
			[]string{"hint"}, // coalescable/must_persist
		),
		DroppedWrites: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "contentarea_dropped_writes_total",
				Help: "Queued coalescable writes superseded before flush",
			},
		),
		Reconciliations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "contentarea_reconciliations_total",
				Help: "Local drafts cleared after the store caught up",
			},
		),
		Checkpoints: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "contentarea_checkpoints_total",
				Help: "Undo levels closed in the entity store",
			},
		),
		ParseFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "contentarea_parse_failures_total",
				Help: "Stored block markup that failed to parse",
			},
		),
		RecursionHalts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentarea_recursion_halts_total",
				Help: "Renders stopped because a block would contain itself",
			},
			[]string{"surface"}, // editor/server
		),
		Projections: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentarea_projections_total",
				Help: "Content projections by mode",
			},
			[]string{"mode"},
		),
	}
}

var defaultMetrics = NewMetrics(nil)

func metricsOrDefault(m *Metrics) *Metrics {
	if m == nil {
		return defaultMetrics
	}
	return m
}
