// Package metrics exposes Prometheus instrumentation for agent runs, LLM
// calls, tool executions and the result cache.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector owns a private registry so several collectors can coexist in tests.
// All Record methods are safe to call on a nil *Collector.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	toolExecutionsTotal   *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	agentRunsTotal   *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentConfidence  *prometheus.HistogramVec
	agentSteps       *prometheus.HistogramVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector whose metric names are prefixed by namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"route", "finish_reason"},
	)
	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"route"},
	)
	c.llmTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"route", "type"},
	)

	c.toolExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Total number of tool executions",
		},
		[]string{"tool", "status"},
	)
	c.toolExecutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_execution_duration_seconds",
			Help:      "Tool execution duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"tool"},
	)

	c.agentRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Total number of agent executions",
		},
		[]string{"agent_type", "status"},
	)
	c.agentRunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_duration_seconds",
			Help:      "Agent execution duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"agent_type"},
	)
	c.agentConfidence = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_report_confidence",
			Help:      "Confidence score of generated reports",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"agent_type"},
	)
	c.agentSteps = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_reasoning_steps",
			Help:      "Reasoning steps used per execution",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		},
		[]string{"agent_type"},
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"backend"},
	)
	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"backend"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordLLMRequest records one LLM call.
func (c *Collector) RecordLLMRequest(route, finishReason string, duration time.Duration, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	c.llmRequestsTotal.WithLabelValues(route, finishReason).Inc()
	c.llmRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(route, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(route, "completion").Add(float64(completionTokens))
}

// RecordToolExecution records one tool invocation.
func (c *Collector) RecordToolExecution(tool string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	c.toolExecutionsTotal.WithLabelValues(tool, status(success)).Inc()
	c.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordAgentRun records a finished agent execution.
func (c *Collector) RecordAgentRun(agentType string, success bool, duration time.Duration, steps int, confidence float64) {
	if c == nil {
		return
	}
	c.agentRunsTotal.WithLabelValues(agentType, status(success)).Inc()
	c.agentRunDuration.WithLabelValues(agentType).Observe(duration.Seconds())
	c.agentSteps.WithLabelValues(agentType).Observe(float64(steps))
	c.agentConfidence.WithLabelValues(agentType).Observe(confidence)
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit(backend string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(backend).Inc()
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss(backend string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(backend).Inc()
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
