package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestAnalysisCounters(t *testing.T) {
	EmailsAnalyzed.Reset()
	AnalyzerDegraded.Reset()

	EmailsAnalyzed.WithLabelValues("safe").Inc()
	EmailsAnalyzed.WithLabelValues("critical").Inc()
	EmailsAnalyzed.WithLabelValues("critical").Inc()
	AnalyzerDegraded.WithLabelValues("header").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(EmailsAnalyzed.WithLabelValues("safe")))
	assert.Equal(t, 2.0, testutil.ToFloat64(EmailsAnalyzed.WithLabelValues("critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(AnalyzerDegraded.WithLabelValues("header")))
}

func TestLookupCounters(t *testing.T) {
	LookupCacheHits.Reset()
	LookupCacheMisses.Reset()

	LookupCacheHits.WithLabelValues("domain", "memory").Inc()
	LookupCacheMisses.WithLabelValues("domain").Add(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(LookupCacheHits.WithLabelValues("domain", "memory")))
	assert.Equal(t, 3.0, testutil.ToFloat64(LookupCacheMisses.WithLabelValues("domain")))
}

func TestQueueGauge(t *testing.T) {
	QueueDepth.Set(0)
	QueueDepth.Inc()
	QueueDepth.Inc()
	QueueDepth.Dec()
	assert.Equal(t, 1.0, testutil.ToFloat64(QueueDepth))
}
