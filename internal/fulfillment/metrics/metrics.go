package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the fulfillment module.
type Metrics struct {
	BatchesCreated       prometheus.Counter
	CertificatesExported prometheus.Counter
	CertificatesMailed   prometheus.Counter
	CertificatesVoided   prometheus.Counter
	ReprintsCreated      prometheus.Counter
	ReconcileRowErrors   prometheus.Counter
	DuplicateReports     prometheus.Counter
	CreateBatchDuration  prometheus.Histogram
	ReconcileDuration    prometheus.Histogram
}

// New creates a Metrics instance with all fulfillment metrics registered.
func New() *Metrics {
	return &Metrics{
		BatchesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coursecert_batches_created_total",
			Help: "Total number of fulfillment batches exported",
		}),
		CertificatesExported: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coursecert_certificates_exported_total",
			Help: "Total number of certificates bound to an export batch",
		}),
		CertificatesMailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coursecert_certificates_mailed_total",
			Help: "Total number of certificates confirmed mailed by the vendor",
		}),
		CertificatesVoided: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coursecert_certificates_voided_total",
			Help: "Total number of certificates voided by vendor exceptions",
		}),
		ReprintsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coursecert_reprints_created_total",
			Help: "Total number of replacement certificates created",
		}),
		ReconcileRowErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coursecert_reconcile_row_errors_total",
			Help: "Total number of reconciliation rows that failed to apply",
		}),
		DuplicateReports: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coursecert_duplicate_reports_total",
			Help: "Total number of report uploads whose content was seen before",
		}),
		CreateBatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "coursecert_create_batch_duration_seconds",
			Help:    "Duration of CreateBatch operations",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		ReconcileDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "coursecert_reconcile_duration_seconds",
			Help:    "Duration of Reconcile operations",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// ObserveCreateBatch records the duration of a CreateBatch operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveCreateBatch(start time.Time) {
	m.CreateBatchDuration.Observe(time.Since(start).Seconds())
}

// ObserveReconcile records the duration of a Reconcile operation.
func (m *Metrics) ObserveReconcile(start time.Time) {
	m.ReconcileDuration.Observe(time.Since(start).Seconds())
}
