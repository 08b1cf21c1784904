package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Import run metrics
	ImportsStarted   *prometheus.CounterVec
	ImportsCommitted *prometheus.CounterVec
	ImportsAborted   *prometheus.CounterVec
	ImportDuration   *prometheus.HistogramVec

	// Row outcome metrics
	RowsInserted  *prometheus.CounterVec
	RowsSkipped   *prometheus.CounterVec
	PageConflicts prometheus.Counter

	// Patient resolution metrics
	PatientsCreated prometheus.Counter
	PatientsMatched prometheus.Counter

	// Backup metrics
	BackupsTaken  prometheus.Counter
	BackupsFailed prometheus.Counter
}

// NewMetrics creates all application metrics and registers them on the
// default registry.
func NewMetrics(namespace, subsystem string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace, subsystem)
}

// NewMetricsWith registers the metrics on reg. Tests pass a fresh registry
// so repeated construction never collides.
func NewMetricsWith(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ImportsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "imports_started_total",
			Help:      "Total number of import runs started",
		}, []string{"source_kind", "dry_run"}),
		ImportsCommitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "imports_committed_total",
			Help:      "Total number of import runs committed",
		}, []string{"source_kind"}),
		ImportsAborted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "imports_aborted_total",
			Help:      "Total number of import runs aborted before or during commit",
		}, []string{"source_kind", "reason"}),
		ImportDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "import_duration_seconds",
			Help:      "Time spent running an import end to end",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"source_kind", "dry_run"}),

		RowsInserted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rows_inserted_total",
			Help:      "Total number of payment rows inserted",
		}, []string{"kind"}),
		RowsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rows_skipped_total",
			Help:      "Total number of rows skipped, by classification",
		}, []string{"reason"}),
		PageConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "page_conflicts_total",
			Help:      "Total number of page number conflicts recorded",
		}),

		PatientsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "patients_created_total",
			Help:      "Total number of patients created by imports",
		}),
		PatientsMatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "patients_matched_total",
			Help:      "Total number of incoming rows matched to existing patients",
		}),

		BackupsTaken: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backups_taken_total",
			Help:      "Total number of pre-import backups taken",
		}),
		BackupsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backups_failed_total",
			Help:      "Total number of failed pre-import backups",
		}),
	}
}
