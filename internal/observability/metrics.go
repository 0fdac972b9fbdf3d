package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "axescan"

var (
	// Browser session metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "browser",
		Name:      "sessions_active",
		Help:      "Number of browser sessions currently alive.",
	})

	SessionAcquireWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "browser",
		Name:      "acquire_wait_seconds",
		Help:      "Time spent waiting for a free session slot.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9), // 1ms to ~65s
	})

	SessionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "browser",
		Name:      "sessions_rejected_total",
		Help:      "Acquisitions refused because the session limit was reached.",
	})

	// Scan metrics
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scan",
			Name:      "total",
			Help:      "Completed scans by outcome. Failed scans carry the error kind.",
		},
		[]string{"outcome", "kind"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "scan",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each scan stage in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"stage"},
	)

	ViolationsFound = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "scan",
			Name:      "violations",
			Help:      "Violation entries per successful scan by impact.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"impact"},
	)

	// Audit engine metrics
	EngineLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "audit",
			Name:      "engine_loads_total",
			Help:      "Attempts to load the audit engine source by result.",
		},
		[]string{"source", "result"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served by route and status code.",
		},
		[]string{"route", "code"},
	)
)
