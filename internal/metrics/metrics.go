// Package metrics exposes Prometheus collectors for the stewards.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors reported by the health and merge
// stewards. A nil *Metrics is a valid no-op receiver.
type Metrics struct {
	healthChecks  prometheus.Counter
	issuesActive  prometheus.Gauge
	healthActions *prometheus.CounterVec
	mergeOutcomes *prometheus.CounterVec
	testRuns      *prometheus.CounterVec
	scanDuration  prometheus.Histogram
}

var (
	defaultOnce   sync.Once
	sharedMetrics *Metrics
)

// Default returns the package-level metrics instance registered with
// the global Prometheus registry. The collectors are created only once
// to avoid duplicate registration panics when stewards are
// instantiated multiple times.
func Default() *Metrics {
	defaultOnce.Do(func() {
		sharedMetrics = MustNew(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNew constructs a Metrics instance using the provided registerer.
// Supply a fresh registry in tests that need unique metric names. A
// registration error panics, mirroring promauto semantics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	healthChecks := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stoneforge",
		Subsystem: "health",
		Name:      "checks_total",
		Help:      "Total number of health-check scans performed.",
	})
	issuesActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stoneforge",
		Subsystem: "health",
		Name:      "issues_active",
		Help:      "Number of currently active health issues.",
	})
	healthActions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stoneforge",
		Subsystem: "health",
		Name:      "actions_total",
		Help:      "Total number of remediation actions taken, by action.",
	}, []string{"action"})
	mergeOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stoneforge",
		Subsystem: "merge",
		Name:      "processed_total",
		Help:      "Total number of merge pipeline runs, by outcome.",
	}, []string{"outcome"})
	testRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stoneforge",
		Subsystem: "merge",
		Name:      "test_runs_total",
		Help:      "Total number of test executions, by result.",
	}, []string{"result"})
	scanDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stoneforge",
		Subsystem: "health",
		Name:      "scan_duration_seconds",
		Help:      "Duration of health-check scans.",
		Buckets:   prometheus.DefBuckets,
	})

	collectors := []prometheus.Collector{
		healthChecks, issuesActive, healthActions, mergeOutcomes, testRuns, scanDuration,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector {
				case healthChecks:
					healthChecks = already.ExistingCollector.(prometheus.Counter)
				case issuesActive:
					issuesActive = already.ExistingCollector.(prometheus.Gauge)
				case healthActions:
					healthActions = already.ExistingCollector.(*prometheus.CounterVec)
				case mergeOutcomes:
					mergeOutcomes = already.ExistingCollector.(*prometheus.CounterVec)
				case testRuns:
					testRuns = already.ExistingCollector.(*prometheus.CounterVec)
				case scanDuration:
					scanDuration = already.ExistingCollector.(prometheus.Histogram)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		healthChecks:  healthChecks,
		issuesActive:  issuesActive,
		healthActions: healthActions,
		mergeOutcomes: mergeOutcomes,
		testRuns:      testRuns,
		scanDuration:  scanDuration,
	}
}

// IncHealthCheck counts one completed health scan.
func (m *Metrics) IncHealthCheck() {
	if m == nil || m.healthChecks == nil {
		return
	}
	m.healthChecks.Inc()
}

// SetActiveIssues reports the current number of open health issues.
func (m *Metrics) SetActiveIssues(n int) {
	if m == nil || m.issuesActive == nil {
		return
	}
	m.issuesActive.Set(float64(n))
}

// IncHealthAction counts one remediation action.
func (m *Metrics) IncHealthAction(action string) {
	if m == nil || m.healthActions == nil {
		return
	}
	m.healthActions.WithLabelValues(action).Inc()
}

// IncMergeProcessed counts one merge pipeline run with its outcome.
func (m *Metrics) IncMergeProcessed(outcome string) {
	if m == nil || m.mergeOutcomes == nil {
		return
	}
	m.mergeOutcomes.WithLabelValues(outcome).Inc()
}

// IncTestRun counts one test execution with its result.
func (m *Metrics) IncTestRun(result string) {
	if m == nil || m.testRuns == nil {
		return
	}
	m.testRuns.WithLabelValues(result).Inc()
}

// ObserveScanDuration records the duration of one health scan.
func (m *Metrics) ObserveScanDuration(d time.Duration) {
	if m == nil || m.scanDuration == nil {
		return
	}
	m.scanDuration.Observe(d.Seconds())
}
