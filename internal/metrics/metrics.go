// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lbs"

var (
	decisionsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by routing type and success.",
		},
		[]string{"routing_type", "success"},
	)
	duplicatesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_duplicates_total",
			Help:      "Webhook deliveries rejected as duplicates.",
		},
		[]string{"event_type"},
	)
	lockContentionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_contention_total",
			Help:      "Locks that could not be acquired within the retry budget.",
		},
		[]string{"scope"},
	)
	transitionsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_transitions_total",
			Help:      "Call state transitions by target state.",
		},
		[]string{"to"},
	)
	droppedEventsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because the dispatch buffer was full.",
		},
		[]string{"type"},
	)
	webhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_duration_seconds",
			Help:      "Webhook handling latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"webhook", "code"},
	)
)

var registerMetrics sync.Once

// Register adds every collector to reg once.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(
			decisionsCounter,
			duplicatesCounter,
			lockContentionCounter,
			transitionsCounter,
			droppedEventsCounter,
			webhookLatency,
		)
	})
}

func RecordDecision(routingType string, success bool) {
	s := "false"
	if success {
		s = "true"
	}
	decisionsCounter.WithLabelValues(routingType, s).Inc()
}

func RecordDuplicate(eventType string) {
	duplicatesCounter.WithLabelValues(eventType).Inc()
}

// RecordLockContention counts a failed acquire; scope is "session" or "group".
func RecordLockContention(scope string) {
	lockContentionCounter.WithLabelValues(scope).Inc()
}

func RecordTransition(to string) {
	transitionsCounter.WithLabelValues(to).Inc()
}

func RecordDroppedEvent(eventType string) {
	droppedEventsCounter.WithLabelValues(eventType).Inc()
}

func ObserveWebhook(webhook, code string, d time.Duration) {
	webhookLatency.WithLabelValues(webhook, code).Observe(d.Seconds())
}
