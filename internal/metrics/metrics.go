// Package metrics defines the proxy's bounded Prometheus counter set:
// selection fan-out, AIMD adaptation, circuit-breaker transitions,
// signature-cache hit/miss, and retry-budget exhaustion. Every vector is
// labeled only by fields with a small, known cardinality (account email,
// model id, fallback level, cache layer) — never by request id or raw
// error text, so the series count stays bounded regardless of traffic
// shape. This package only registers the collectors; mounting a
// /metrics handler is the composition root's concern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/avlabs/gemini-gateway/internal/selector"
	"github.com/avlabs/gemini-gateway/internal/signature"
)

// Collector implements the metrics sinks internal/selector and
// internal/signature accept, backed by a set of counters registered
// against a caller-supplied registry.
type Collector struct {
	candidates       *prometheus.CounterVec
	aimdReward       *prometheus.CounterVec
	aimdPenalize     *prometheus.CounterVec
	circuitTransition *prometheus.CounterVec
	signatureCache   *prometheus.CounterVec
	retryExhausted   *prometheus.CounterVec
}

// New registers the counter set against reg and returns the Collector.
// Pass prometheus.NewRegistry() for a process isolated from the default
// global registry, matching how test code and multiple server instances
// in one process avoid collector-already-registered panics.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		candidates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "selector",
			Name:      "candidates_total",
			Help:      "Eligible candidate accounts considered per selection, by model and fallback level.",
		}, []string{"model", "fallback"}),
		aimdReward: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "aimd",
			Name:      "reward_total",
			Help:      "AIMD concurrency-limit increases, by account.",
		}, []string{"account"}),
		aimdPenalize: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "aimd",
			Name:      "penalize_total",
			Help:      "AIMD concurrency-limit decreases, by account.",
		}, []string{"account"}),
		circuitTransition: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "circuit",
			Name:      "transitions_total",
			Help:      "Circuit-breaker state transitions, by account and from/to state.",
		}, []string{"account", "from", "to"}),
		signatureCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "signature_cache",
			Name:      "lookups_total",
			Help:      "Thought-signature cache lookups, by layer and hit/miss.",
		}, []string{"layer", "result"}),
		retryExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "retryloop",
			Name:      "exhausted_total",
			Help:      "Requests that exhausted the account-rotation retry budget, by model.",
		}, []string{"model"}),
	}
}

// RecordCandidates implements selector.MetricsSink.
func (c *Collector) RecordCandidates(modelID string, count int, fallback selector.FallbackLevel) {
	c.candidates.WithLabelValues(modelID, string(fallback)).Add(float64(count))
}

// RecordAIMDReward implements selector.MetricsSink.
func (c *Collector) RecordAIMDReward(email string) {
	c.aimdReward.WithLabelValues(email).Inc()
}

// RecordAIMDPenalize implements selector.MetricsSink.
func (c *Collector) RecordAIMDPenalize(email string) {
	c.aimdPenalize.WithLabelValues(email).Inc()
}

// RecordCircuitTransition implements selector.MetricsSink.
func (c *Collector) RecordCircuitTransition(email string, from, to selector.CircuitState) {
	if from == to {
		return
	}
	c.circuitTransition.WithLabelValues(email, from.String(), to.String()).Inc()
}

// RecordSignatureCache implements signature.MetricsSink.
func (c *Collector) RecordSignatureCache(layer signature.Layer, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.signatureCache.WithLabelValues(string(layer), result).Inc()
}

// RecordRetryExhausted implements retryloop.MetricsSink.
func (c *Collector) RecordRetryExhausted(modelID string) {
	c.retryExhausted.WithLabelValues(modelID).Inc()
}
