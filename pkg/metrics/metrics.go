// Package metrics exposes the pipeline's Prometheus instrumentation.
// Collectors are registered on the default registry and served by the
// admin API at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesProcessed counts settled messages by stage and outcome
	// (success, skipped, failed).
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_messages_processed_total",
		Help: "Queue messages processed, by stage and outcome.",
	}, []string{"stage", "outcome"})

	// QueueDepth tracks approximate visible depth per queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "curator_queue_depth",
		Help: "Approximate visible messages per queue.",
	}, []string{"queue"})

	// LLMTokens counts tokens consumed by direction.
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_llm_tokens_total",
		Help: "LLM tokens consumed, by direction (input, output).",
	}, []string{"direction"})

	// LLMCostUSD accumulates generation spend.
	LLMCostUSD = promauto.NewCounter(prometheus.CounterOpts{
		Name: "curator_llm_cost_usd_total",
		Help: "Accumulated LLM spend in USD.",
	})

	// ImageLookups counts image searches by source and outcome.
	ImageLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_image_lookups_total",
		Help: "Stock image lookups, by source and outcome.",
	}, []string{"source", "outcome"})

	// SiteBuilds counts publisher runs by outcome.
	SiteBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_site_builds_total",
		Help: "Site builds, by outcome.",
	}, []string{"outcome"})
)
