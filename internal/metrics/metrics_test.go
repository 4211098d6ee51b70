package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.IncrementScan("TD3", "VALID")
	m.IncrementScan("TD3", "VALID")
	m.IncrementScan("TD1", "INVALID")
	m.IncrementNoMatch("no-format-fit")
	m.IncrementCheckFailure("composite")
	m.IncrementDuplicate()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Scans.WithLabelValues("TD3", "VALID")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Scans.WithLabelValues("TD1", "INVALID")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NoMatch.WithLabelValues("no-format-fit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckFailures.WithLabelValues("composite")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Duplicates))
}

func TestMetrics_Histograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.ObserveOCRLatency("tesseract", 300*time.Millisecond)
	m.ObserveResolveWindows(4)

	assert.Equal(t, 1, testutil.CollectAndCount(m.OCRLatency))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ResolveWindows))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementScan("TD3", "VALID")
		m.IncrementNoMatch("x")
		m.IncrementCheckFailure("x")
		m.ObserveOCRLatency("x", time.Second)
		m.ObserveResolveWindows(1)
		m.IncrementDuplicate()
	})
}
