// Package metrics exposes catalog counters and timings to Prometheus. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Metrics holds the catalog collectors
type Metrics struct {
	aggregateCommits *prometheus.CounterVec
	counterMutations *prometheus.CounterVec
	indexChanges     *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	listingDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		aggregateCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_aggregate_commits_total",
			Help: "Product aggregate commits by operation and result",
		}, []string{"op", "result"}),
		counterMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_counter_mutations_total",
			Help: "Engagement counter mutations by counter and result",
		}, []string{"counter", "result"}),
		indexChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_vendor_index_changes_total",
			Help: "Vendor index changes applied by operation and result",
		}, []string{"op", "result"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_job_runs_total",
			Help: "Background job runs by job and result",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalog_job_duration_seconds",
			Help:    "Background job run duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"job"}),
		listingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalog_listing_duration_seconds",
			Help:    "Product listing latency by strategy",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
	}

	reg.MustRegister(
		m.aggregateCommits,
		m.counterMutations,
		m.indexChanges,
		m.jobRuns,
		m.jobDuration,
		m.listingDuration,
	)
	return m
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// AggregateCommit records an aggregate create, update or delete
func (m *Metrics) AggregateCommit(op string, err error) {
	if m == nil {
		return
	}
	m.aggregateCommits.WithLabelValues(op, result(err)).Inc()
}

// CounterMutation records an engagement counter transaction
func (m *Metrics) CounterMutation(counter string, err error) {
	if m == nil {
		return
	}
	m.counterMutations.WithLabelValues(counter, result(err)).Inc()
}

// IndexChange records the outcome of applying one vendor index change
func (m *Metrics) IndexChange(op, res string) {
	if m == nil {
		return
	}
	m.indexChanges.WithLabelValues(op, res).Inc()
}

// JobRun records a background job run and its duration
func (m *Metrics) JobRun(job string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, result(err)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}

// Listing records the latency of one listing call
func (m *Metrics) Listing(strategy string, started time.Time) {
	if m == nil {
		return
	}
	m.listingDuration.WithLabelValues(strategy).Observe(time.Since(started).Seconds())
}
