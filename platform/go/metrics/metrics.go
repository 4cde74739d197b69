// Package metrics exposes the Prometheus instruments shared across the sync
// engine. Counters are registered on the default registry and served by the
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook outcomes.
const (
	OutcomeSynced  = "synced"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

var (
	// WebhookEvents counts processed webhook deliveries by event type and outcome.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xero_sync",
		Name:      "webhook_events_total",
		Help:      "Webhook deliveries processed, by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// DeadLetterRetries counts dead-letter replay attempts by outcome.
	DeadLetterRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xero_sync",
		Name:      "dead_letter_retries_total",
		Help:      "Dead-letter replay attempts, by outcome.",
	}, []string{"outcome"})

	// SyncDuration observes end-to-end handling time per event type.
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "xero_sync",
		Name:      "event_duration_seconds",
		Help:      "End-to-end webhook event handling duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})
)
