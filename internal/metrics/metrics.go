package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Analysis metrics
var (
	EmailsAnalyzed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_emails_analyzed_total",
			Help: "Total number of analyzed emails by risk level",
		},
		[]string{"level"},
	)

	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "phishguard_analysis_duration_seconds",
			Help:    "Duration of per-email analysis in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	AnalyzerDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_analyzer_degraded_total",
			Help: "Analyzer contributions that defaulted to zero",
		},
		[]string{"analyzer"},
	)
)

// Lookup cache metrics
var (
	LookupCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_lookup_cache_hits_total",
			Help: "Lookup cache hits by cache name and tier",
		},
		[]string{"cache", "tier"},
	)

	LookupCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_lookup_cache_misses_total",
			Help: "Lookup cache misses by cache name",
		},
		[]string{"cache"},
	)

	LookupCoalesced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_lookup_coalesced_total",
			Help: "Lookups that shared an in-flight call",
		},
		[]string{"cache"},
	)

	LookupErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_lookup_errors_total",
			Help: "Failed upstream lookups by source",
		},
		[]string{"source"},
	)
)

// Rule and report metrics
var (
	RuleMatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "phishguard_rule_matches_total",
			Help: "Total number of rule matches",
		},
	)

	RuleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_rule_errors_total",
			Help: "Rule validation and action failures",
		},
		[]string{"kind"},
	)

	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_reports_total",
			Help: "Abuse reports by final status",
		},
		[]string{"status"},
	)

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_delivery_attempts_total",
			Help: "SMTP delivery attempts by result",
		},
		[]string{"result"},
	)
)

// Worker pool metrics
var (
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "phishguard_queue_depth",
			Help: "Emails waiting in the worker queue",
		},
	)

	QueueRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "phishguard_queue_rejected_total",
			Help: "Emails rejected because the worker queue was full",
		},
	)
)
