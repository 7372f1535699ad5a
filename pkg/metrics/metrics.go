// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sindi_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sindi_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// LLMStreamDuration tracks chat stream duration by outcome.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sindi_llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "outcome"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sindi_llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// ActiveStreams tracks chat responses currently streaming.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sindi_active_streams",
			Help: "Number of chat responses currently streaming",
		},
	)

	// FilterExtractions counts extraction outcomes (ok, empty, failed).
	FilterExtractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sindi_filter_extractions_total",
			Help: "Filter extraction outcomes",
		},
		[]string{"outcome"},
	)

	// RetrievalResults observes result counts per retrieval strategy.
	RetrievalResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sindi_retrieval_results",
			Help:    "Properties returned per retrieval strategy",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
		[]string{"strategy"},
	)

	// RetrievalFailures counts soft failures per retrieval strategy.
	RetrievalFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sindi_retrieval_failures_total",
			Help: "Retrieval failures converted to empty results",
		},
		[]string{"strategy", "reason"},
	)

	// CitationBlocks counts PROPERTIES_JSON blocks by verdict.
	CitationBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sindi_citation_blocks_total",
			Help: "Model citation blocks by validation verdict",
		},
		[]string{"verdict"},
	)

	// PersistenceFailures counts store writes that failed after retries.
	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sindi_persistence_failures_total",
			Help: "Conversation writes that failed",
		},
		[]string{"operation"},
	)

	// TitlesGenerated counts auto-titles by source (model, fallback).
	TitlesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sindi_titles_generated_total",
			Help: "Auto-generated conversation titles",
		},
		[]string{"source"},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sindi_conversations_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks total messages persisted.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sindi_messages_total",
			Help: "Total messages persisted",
		},
		[]string{"role"},
	)

	// ShareTokensIssued counts generated share tokens.
	ShareTokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sindi_share_tokens_issued_total",
			Help: "Share tokens issued",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, route, status string, duration float64) {
	RequestDuration.WithLabelValues(method, route, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, route, status).Inc()
}

// RecordLLMStream records metrics for an LLM streaming response.
func RecordLLMStream(model, outcome string, duration float64, tokensIn, tokensOut int) {
	LLMStreamDuration.WithLabelValues(model, outcome).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordRetrieval records one retriever's result count.
func RecordRetrieval(strategy string, count int) {
	RetrievalResults.WithLabelValues(strategy).Observe(float64(count))
}

// StreamStarted increments the active stream gauge.
func StreamStarted() {
	ActiveStreams.Inc()
}

// StreamEnded decrements the active stream gauge.
func StreamEnded() {
	ActiveStreams.Dec()
}
