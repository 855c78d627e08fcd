package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tick outcomes recorded in csvimport_ticks_total.
const (
	OutcomeAdvanced    = "advanced"
	OutcomeCompleted   = "completed"
	OutcomeNotFound    = "not_found"
	OutcomeNoImporter  = "no_importer"
	OutcomeDenied      = "denied"
	OutcomeBusy        = "busy"
	OutcomeInert       = "inert"
	OutcomeImportError = "import_error"
	OutcomeStoreError  = "store_error"
)

// Metrics holds the service's prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ticks         *prometheus.CounterVec
	rowsImported  *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	uploads       *prometheus.CounterVec
	events        *prometheus.CounterVec
	schedules     *prometheus.CounterVec
	purged        prometheus.Counter
}

// NewMetrics registers collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "csvimport_ticks_total",
			Help: "Batch runner ticks by importer and outcome.",
		}, []string{"importer", "outcome"}),
		rowsImported: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "csvimport_rows_imported_total",
			Help: "Rows handed to import behaviors that returned without error.",
		}, []string{"importer"}),
		batchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "csvimport_batch_duration_seconds",
			Help:    "Time spent in import behaviors per batch.",
			Buckets: prometheus.DefBuckets,
		}, []string{"importer"}),
		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "csvimport_uploads_total",
			Help: "Uploads by importer and result.",
		}, []string{"importer", "result"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "csvimport_events_total",
			Help: "Lifecycle events emitted.",
		}, []string{"type"}),
		schedules: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "csvimport_schedule_ops_total",
			Help: "Scheduler operations by kind.",
		}, []string{"op"}),
		purged: factory.NewCounter(prometheus.CounterOpts{
			Name: "csvimport_records_purged_total",
			Help: "Never-started uploads removed by the janitor.",
		}),
	}
}

func (m *Metrics) tick(importer, outcome string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(importer, outcome).Inc()
}

func (m *Metrics) batch(importer string, rows int, took time.Duration) {
	if m == nil {
		return
	}
	m.rowsImported.WithLabelValues(importer).Add(float64(rows))
	m.batchDuration.WithLabelValues(importer).Observe(took.Seconds())
}

func (m *Metrics) upload(importer, result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(importer, result).Inc()
}

func (m *Metrics) schedule(op string) {
	if m == nil {
		return
	}
	m.schedules.WithLabelValues(op).Inc()
}

func (m *Metrics) purge(n int64) {
	if m == nil {
		return
	}
	m.purged.Add(float64(n))
}

// Notify counts lifecycle events, so Metrics can be subscribed to an EventBus.
func (m *Metrics) Notify(_ context.Context, e Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(e.Type)).Inc()
}
