package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the attendance collectors.
type Metrics struct {
	Submissions    *prometheus.CounterVec
	Reports        *prometheus.CounterVec
	SubmitLatency  prometheus.Histogram
	CacheLookups   *prometheus.CounterVec
	WorkerMessages *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "submissions_total",
			Help:      "Attendance submissions by outcome and reason code.",
		}, []string{"outcome", "code"}),
		Reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "reports_total",
			Help:      "Session reports served by source.",
		}, []string{"source"}),
		SubmitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "attendance",
			Name:      "submit_duration_seconds",
			Help:      "End-to-end handling time of submissions that reached the store.",
			Buckets:   prometheus.DefBuckets,
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "report_cache_lookups_total",
			Help:      "Report cache lookups by result.",
		}, []string{"result"}),
		WorkerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "worker_messages_total",
			Help:      "Queue messages handled by the worker by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Submissions, m.Reports, m.SubmitLatency, m.CacheLookups, m.WorkerMessages)
	}
	return m
}

// ObserveSubmission counts one submission. code is empty unless the outcome
// carries one.
func (m *Metrics) ObserveSubmission(outcome, code string, took time.Duration) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome, code).Inc()
	if outcome == "recorded" || outcome == "duplicate" {
		m.SubmitLatency.Observe(took.Seconds())
	}
}

// ObserveReport counts one report by source (live or cache).
func (m *Metrics) ObserveReport(source string) {
	if m == nil {
		return
	}
	m.Reports.WithLabelValues(source).Inc()
}

// ObserveCache counts one cache lookup (hit, miss or error).
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveWorker counts one worker message (refreshed, skipped or failed).
func (m *Metrics) ObserveWorker(result string) {
	if m == nil {
		return
	}
	m.WorkerMessages.WithLabelValues(result).Inc()
}
