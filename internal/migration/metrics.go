package migration

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	LabelApplied  = "applied"
	LabelFailed   = "failed"
	LabelNoop     = "noop"
	LabelMigrated = "migrated"
	LabelCleared  = "cleared"
)

// Metrics holds counters for migration runs.
type Metrics struct {
	Steps        *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	Documents    *prometheus.CounterVec
	BackfillRows *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	const (
		namespace = "sdmigrate"
		subsystem = "migration"
	)

	m := &Metrics{
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "steps_total",
			Help:      "Count of executed migration steps",
		}, []string{"version", "result"}),

		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "step_duration_seconds",
			Help:      "Histogram of times spent executing a migration step",
			Buckets:   prometheus.ExponentialBuckets(1e-3, 5, 7),
		}, []string{"version"}),

		Documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "documents_total",
			Help:      "Count of documents processed by result",
		}, []string{"result"}),

		BackfillRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backfill_rows_total",
			Help:      "Count of rows moved out of a backfill predicate",
		}, []string{"backfill", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.PrometheusCollectors()...)
	}
	return m
}

// PrometheusCollectors returns all collectors.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Steps,
		m.StepDuration,
		m.Documents,
		m.BackfillRows,
	}
}

func (m *Metrics) observeStep(version int, took time.Duration, err error) {
	if m == nil {
		return
	}
	v := strconv.Itoa(version)
	result := LabelApplied
	if err != nil {
		result = LabelFailed
	}
	m.Steps.WithLabelValues(v, result).Inc()
	m.StepDuration.WithLabelValues(v).Observe(took.Seconds())
}

func (m *Metrics) observeDocument(result string) {
	if m == nil {
		return
	}
	m.Documents.WithLabelValues(result).Inc()
}

// ObserveBackfill counts converted and cleared rows of a finished backfill.
func (m *Metrics) ObserveBackfill(name string, converted, cleared int) {
	if m == nil {
		return
	}
	m.BackfillRows.WithLabelValues(name, LabelMigrated).Add(float64(converted))
	m.BackfillRows.WithLabelValues(name, LabelCleared).Add(float64(cleared))
}
