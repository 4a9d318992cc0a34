package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics provides observability for contact writes and imports.
type Metrics struct {
	Writes             *prometheus.CounterVec
	WriteDuration      *prometheus.HistogramVec
	ValidationFailures *prometheus.CounterVec
	PhoneConflicts     prometheus.Counter
	ImportRows         *prometheus.CounterVec
	ImportDuration     prometheus.Histogram
	IndexKeys          prometheus.Gauge
}

// New registers the contact metrics on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Writes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rolodex_contact_writes_total",
			Help: "Contact writes by operation and result",
		}, []string{"op", "result"}),
		WriteDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rolodex_contact_write_duration_seconds",
			Help:    "Duration of contact writes including index reservation",
			Buckets: durationBuckets,
		}, []string{"op"}),
		ValidationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rolodex_contact_validation_failures_total",
			Help: "Rejected candidates by field",
		}, []string{"field"}),
		PhoneConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "rolodex_phone_conflicts_total",
			Help: "Writes rejected because a phone number belongs to another contact",
		}),
		ImportRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rolodex_import_rows_total",
			Help: "Imported rows by status and skip reason",
		}, []string{"status", "reason"}),
		ImportDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rolodex_import_duration_seconds",
			Help:    "Duration of whole import runs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		IndexKeys: f.NewGauge(prometheus.GaugeOpts{
			Name: "rolodex_phone_index_keys",
			Help: "Phone keys loaded by the last index rebuild",
		}),
	}
}

// ObserveWrite records one write. Call with time.Now() at the start of the
// operation.
func (m *Metrics) ObserveWrite(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Writes.WithLabelValues(op, result).Inc()
	m.WriteDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementValidationFailure(field string) {
	m.ValidationFailures.WithLabelValues(field).Inc()
}

func (m *Metrics) IncrementPhoneConflict() {
	m.PhoneConflicts.Inc()
}

// ObserveImportRow counts one row outcome. reason is empty for accepted rows.
func (m *Metrics) ObserveImportRow(status, reason string) {
	m.ImportRows.WithLabelValues(status, reason).Inc()
}

// ObserveImport records the duration of an import. Call with time.Now() at
// the start of the operation.
func (m *Metrics) ObserveImport(start time.Time) {
	m.ImportDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) SetIndexKeys(n int) {
	m.IndexKeys.Set(float64(n))
}
