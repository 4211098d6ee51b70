package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for MRZ scanning.
type Metrics struct {
	// Completed scans by format and verification status
	Scans *prometheus.CounterVec

	// Scans that produced no record, by reason
	NoMatch *prometheus.CounterVec

	// Failed check digits by field
	CheckFailures *prometheus.CounterVec

	// OCR latency by engine
	OCRLatency *prometheus.HistogramVec

	// Candidate windows decoded per resolved record
	ResolveWindows prometheus.Histogram

	// Scans flagged as near-duplicates of stored records
	Duplicates prometheus.Counter
}

// New registers the metrics with the default Prometheus registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the metrics with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Scans: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mrz_scans_total",
			Help: "Total decoded MRZ records by format and verification status",
		}, []string{"format", "status"}),

		NoMatch: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mrz_no_match_total",
			Help: "Total scans without a decodable MRZ by reason",
		}, []string{"reason"}), // reason: "too-few-candidate-lines", "no-format-fit"

		CheckFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mrz_check_failures_total",
			Help: "Total check digit mismatches by field",
		}, []string{"field"}),

		OCRLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mrz_ocr_duration_seconds",
			Help:    "Duration of OCR by engine",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"engine"}),

		ResolveWindows: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mrz_resolve_windows",
			Help:    "Number of candidate window combinations decoded per record",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		}),

		Duplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "mrz_duplicates_total",
			Help: "Total scans matching a previously stored record",
		}),
	}
}

// IncrementScan records a decoded record.
func (m *Metrics) IncrementScan(format, status string) {
	if m != nil {
		m.Scans.WithLabelValues(format, status).Inc()
	}
}

// IncrementNoMatch records a scan without a decodable MRZ.
func (m *Metrics) IncrementNoMatch(reason string) {
	if m != nil {
		m.NoMatch.WithLabelValues(reason).Inc()
	}
}

// IncrementCheckFailure records one failed check digit.
func (m *Metrics) IncrementCheckFailure(field string) {
	if m != nil {
		m.CheckFailures.WithLabelValues(field).Inc()
	}
}

// ObserveOCRLatency records how long an OCR engine took.
func (m *Metrics) ObserveOCRLatency(engine string, d time.Duration) {
	if m != nil {
		m.OCRLatency.WithLabelValues(engine).Observe(d.Seconds())
	}
}

// ObserveResolveWindows records the resolver search size.
func (m *Metrics) ObserveResolveWindows(n int) {
	if m != nil {
		m.ResolveWindows.Observe(float64(n))
	}
}

// IncrementDuplicate records a near-duplicate scan.
func (m *Metrics) IncrementDuplicate() {
	if m != nil {
		m.Duplicates.Inc()
	}
}
