// Package metrics defines the process-wide Prometheus collectors.
// All collectors are registered on the default registry via promauto and
// exposed by the /metrics handler in the API layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEventsReceived counts verified inbound webhook events by type.
	WebhookEventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskops_webhook_events_received_total",
		Help: "Verified inbound webhook events by normalized event type.",
	}, []string{"type"})

	// WebhookRejected counts inbound requests rejected before processing.
	WebhookRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskops_webhook_rejected_total",
		Help: "Inbound webhook requests rejected before processing.",
	}, []string{"reason"})

	// PipelineRuns counts completed analysis pipeline runs by trigger and outcome.
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskops_pipeline_runs_total",
		Help: "Analysis pipeline runs by trigger (manual, webhook, cli) and outcome.",
	}, []string{"trigger", "outcome"})

	// OSVCacheHits counts vulnerability cache hits.
	OSVCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskops_osv_cache_hits_total",
		Help: "OSV lookup cache hits.",
	})

	// OSVCacheMisses counts vulnerability cache misses (network round-trips).
	OSVCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskops_osv_cache_misses_total",
		Help: "OSV lookup cache misses resulting in an upstream query.",
	})

	// OSVQueryFailures counts upstream OSV query failures absorbed by the cache.
	OSVQueryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskops_osv_query_failures_total",
		Help: "OSV upstream query failures degraded to a cached negative result.",
	})

	// LogAppendFailures counts best-effort JSONL append failures.
	LogAppendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskops_log_append_failures_total",
		Help: "Append failures on the durable JSONL logs, by stream.",
	}, []string{"stream"})

	// AlertDeliveries counts outbound alert deliveries by channel and outcome.
	AlertDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskops_alert_deliveries_total",
		Help: "Outbound alert deliveries by channel (webhook, email) and outcome.",
	}, []string{"channel", "outcome"})
)
