package observability

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kadirpekel/docqa/pkg/config"
)

// Manager owns the tracer provider and metrics of the process.
type Manager struct {
	tracerProvider trace.TracerProvider
	metrics        Metrics
	prom           *PrometheusMetrics
}

// NewManager initialises tracing and metrics from cfg.
func NewManager(ctx context.Context, cfg config.ObservabilityConfig) (*Manager, error) {
	tp, err := InitTracer(ctx, cfg.Tracing, nil)
	if err != nil {
		return nil, err
	}

	m := &Manager{tracerProvider: tp, metrics: NoopMetrics{}}
	if cfg.Metrics.Enabled {
		prom, err := NewPrometheusMetrics()
		if err != nil {
			return nil, err
		}
		m.prom = prom
		m.metrics = prom
	}
	return m, nil
}

// NoopManager returns a manager that records nothing.
func NoopManager() *Manager {
	return &Manager{tracerProvider: noop.NewTracerProvider(), metrics: NoopMetrics{}}
}

// Tracer returns the docqa tracer.
func (m *Manager) Tracer() trace.Tracer {
	return m.tracerProvider.Tracer(instrumentationName)
}

func (m *Manager) Metrics() Metrics {
	return m.metrics
}

// MetricsHandler returns the Prometheus handler, or nil when metrics are
// disabled.
func (m *Manager) MetricsHandler() http.Handler {
	if m.prom == nil {
		return nil
	}
	return m.prom.Handler()
}

// Shutdown flushes pending spans and stops the meter provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	if sd, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		errs = append(errs, sd.Shutdown(ctx))
	}
	if m.prom != nil {
		errs = append(errs, m.prom.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
