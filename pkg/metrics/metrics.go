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
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMRequestDuration tracks completion request duration.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "Completion request duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "status"},
	)

	// LLMRequestsTotal counts completion requests by outcome.
	// Outcomes: success, canned, invalid_key, rate_limited, network.
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total completion requests by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// LLMRetriesTotal counts retry waits.
	LLMRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llm_retries_total",
			Help: "Total completion retries after a failed attempt",
		},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// SessionsTotal tracks sessions created per agent.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sessions_total",
			Help: "Total chat sessions created",
		},
		[]string{"agent_id"},
	)

	// MessagesTotal tracks messages added to chats.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total chat messages",
		},
		[]string{"agent_id", "role"},
	)

	// SendFailuresTotal tracks send operations that ended in an error.
	SendFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_send_failures_total",
			Help: "Total failed send operations",
		},
		[]string{"agent_id"},
	)

	// StorageReadFailuresTotal counts reads degraded to an empty result.
	StorageReadFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_read_failures_total",
			Help: "Storage reads that failed and returned an empty result",
		},
		[]string{"record"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordCompletion records metrics for a completion request.
func RecordCompletion(provider, model, outcome string, duration float64, tokensIn, tokensOut int) {
	status := "ok"
	if outcome != "success" {
		status = "error"
	}
	LLMRequestDuration.WithLabelValues(provider, status).Observe(duration)
	LLMRequestsTotal.WithLabelValues(provider, outcome).Inc()
	if tokensIn > 0 || tokensOut > 0 {
		LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
		LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
	}
}

// RecordCanned records a reply served from the canned table.
func RecordCanned(provider string) {
	LLMRequestsTotal.WithLabelValues(provider, "canned").Inc()
}
