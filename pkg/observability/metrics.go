package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Cache outcomes.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheDedup = "dedup"
)

// Metrics records the instruments of a docqa process.
type Metrics interface {
	RecordQuery(ctx context.Context, mode string, duration time.Duration, err error)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, err error)
	RecordIndexBuild(ctx context.Context, reused bool, duration time.Duration, err error)
	RecordCache(ctx context.Context, outcome string)
	RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordQuery(context.Context, string, time.Duration, error)             {}
func (NoopMetrics) RecordToolExecution(context.Context, string, time.Duration, error)     {}
func (NoopMetrics) RecordLLMCall(context.Context, string, time.Duration, error)           {}
func (NoopMetrics) RecordIndexBuild(context.Context, bool, time.Duration, error)          {}
func (NoopMetrics) RecordCache(context.Context, string)                                   {}
func (NoopMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration) {}

// PrometheusMetrics records through an OpenTelemetry meter exported to a
// private Prometheus registry.
type PrometheusMetrics struct {
	registry *promclient.Registry
	provider *sdkmetric.MeterProvider

	queryDuration metric.Float64Histogram
	queryTotal    metric.Int64Counter
	queryErrors   metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolTotal    metric.Int64Counter
	toolErrors   metric.Int64Counter

	llmDuration metric.Float64Histogram
	llmErrors   metric.Int64Counter

	indexDuration metric.Float64Histogram
	indexErrors   metric.Int64Counter

	cacheTotal metric.Int64Counter

	httpDuration metric.Float64Histogram
}

// NewPrometheusMetrics creates the meter provider and every instrument.
func NewPrometheusMetrics() (*PrometheusMetrics, error) {
	registry := promclient.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(instrumentationName)
	m := &PrometheusMetrics{registry: registry, provider: provider}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.queryDuration, "docqa_query_duration_seconds", "Query duration in seconds"},
		{&m.toolDuration, "docqa_tool_execution_duration_seconds", "Tool execution duration in seconds"},
		{&m.llmDuration, "docqa_llm_request_duration_seconds", "LLM request duration in seconds"},
		{&m.indexDuration, "docqa_index_build_duration_seconds", "Document index build duration in seconds"},
		{&m.httpDuration, "docqa_http_request_duration_seconds", "HTTP request duration in seconds"},
	}
	for _, h := range histograms {
		inst, err := meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s"))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", h.name, err)
		}
		*h.dst = inst
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.queryTotal, "docqa_queries_total", "Total queries"},
		{&m.queryErrors, "docqa_query_errors_total", "Total failed queries"},
		{&m.toolTotal, "docqa_tool_calls_total", "Total tool calls"},
		{&m.toolErrors, "docqa_tool_errors_total", "Total tool errors"},
		{&m.llmErrors, "docqa_llm_errors_total", "Total LLM errors"},
		{&m.indexErrors, "docqa_index_build_errors_total", "Total failed index builds"},
		{&m.cacheTotal, "docqa_response_cache_total", "Response cache lookups by outcome"},
	}
	for _, c := range counters {
		inst, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", c.name, err)
		}
		*c.dst = inst
	}

	return m, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PrometheusMetrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

func (m *PrometheusMetrics) RecordQuery(ctx context.Context, mode string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	m.queryDuration.Record(ctx, duration.Seconds(), attrs)
	m.queryTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.queryErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordIndexBuild(ctx context.Context, reused bool, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.Bool("reused", reused))
	m.indexDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.indexErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordCache(ctx context.Context, outcome string) {
	m.cacheTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	))
}

var (
	_ Metrics = NoopMetrics{}
	_ Metrics = (*PrometheusMetrics)(nil)
)
