package telemetry

import (
	"context"
	"os"

	"github.com/giobyte8/imagecache/internal/telemetry/metrics"
)

type TelemetrySvc struct {
	metrics metrics.MetricsSvc
}

// NewTelemetrySvc exports metrics over OTLP when OTEL_ENABLED=true and
// discards them otherwise.
func NewTelemetrySvc(ctx context.Context) (*TelemetrySvc, error) {
	if os.Getenv("OTEL_ENABLED") != "true" {
		return New(metrics.NewNoopMetricsSvc()), nil
	}

	metricsSvc, err := metrics.NewOtelMetricsSvc(ctx)
	if err != nil {
		return nil, err
	}
	return New(metricsSvc), nil
}

// New wraps an already built metrics service.
func New(metricsSvc metrics.MetricsSvc) *TelemetrySvc {
	return &TelemetrySvc{
		metrics: metricsSvc,
	}
}

// NewNoop is a telemetry service recording nothing.
func NewNoop() *TelemetrySvc {
	return New(metrics.NewNoopMetricsSvc())
}

func (t *TelemetrySvc) Metrics() metrics.MetricsSvc {
	return t.metrics
}

func (t *TelemetrySvc) Shutdown(ctx context.Context) error {
	return t.metrics.Shutdown(ctx)
}
