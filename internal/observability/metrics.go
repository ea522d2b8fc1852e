package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	conversations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "belay",
			Subsystem: "protocol",
			Name:      "conversations_total",
			Help:      "Completed raw-mode conversations by outcome.",
		},
		[]string{"outcome"},
	)
	conversationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "belay",
			Subsystem: "protocol",
			Name:      "conversation_duration_seconds",
			Help:      "Raw-mode conversation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	rawEntryRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "belay",
			Subsystem: "protocol",
			Name:      "raw_entry_retries_total",
			Help:      "Raw-mode entry attempts that timed out waiting for the banner.",
		},
	)
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "belay",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Method deployment cache lookups.",
		},
		[]string{"result"},
	)
	deployDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "belay",
			Subsystem: "cache",
			Name:      "deploy_duration_seconds",
			Help:      "Method code deployment duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// RegisterMetrics is idempotent; recorders call it so instrumentation works
// without wiring. Exposition is left to the embedding application.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			conversations, conversationDuration, rawEntryRetries,
			cacheLookups, deployDuration,
		)
	})
}

func RecordConversation(outcome string, duration time.Duration) {
	RegisterMetrics()
	conversations.WithLabelValues(outcome).Inc()
	conversationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordRawEntryRetry() {
	RegisterMetrics()
	rawEntryRetries.Inc()
}

func RecordCacheLookup(hit bool) {
	RegisterMetrics()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

func RecordDeployment(duration time.Duration) {
	RegisterMetrics()
	deployDuration.Observe(duration.Seconds())
}
