package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	taskStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "praxis",
			Name:      "backfill_task_total",
			Help:      "Backfill task outcomes by task type and result.",
		},
		[]string{"task", "result"},
	)

	syncComplete = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "praxis",
			Name:      "backfill_sync_complete_total",
			Help:      "Installations whose backfill reached COMPLETE.",
		},
	)

	fullSyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "praxis",
			Name:      "backfill_full_sync_duration_seconds",
			Help:      "Wall time of a full backfill from enqueue to COMPLETE.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	tokenCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "praxis",
			Name:      "token_cache_lookups_total",
			Help:      "Installation token cache lookups by outcome (hit, miss, expired).",
		},
		[]string{"outcome"},
	)

	jiraSubmit = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "praxis",
			Name:      "jira_submit_total",
			Help:      "Devinfo bulk submissions by result.",
		},
		[]string{"result"},
	)
)

// Register registers all collectors. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(taskStatus, syncComplete, fullSyncDuration, tokenCache, jiraSubmit)
	})
}

// IncTaskStatus records the outcome of one task page ("complete" or "failed").
func IncTaskStatus(task, result string) {
	taskStatus.WithLabelValues(task, result).Inc()
}

// IncSyncComplete records one installation reaching COMPLETE.
func IncSyncComplete() {
	syncComplete.Inc()
}

// ObserveFullSyncDuration records the duration of a finished full backfill.
func ObserveFullSyncDuration(seconds float64) {
	fullSyncDuration.Observe(seconds)
}

// IncTokenCache records a token cache lookup outcome.
func IncTokenCache(outcome string) {
	tokenCache.WithLabelValues(outcome).Inc()
}

// IncJiraSubmit records a devinfo submission result.
func IncJiraSubmit(result string) {
	jiraSubmit.WithLabelValues(result).Inc()
}
