package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

type counterSpec struct {
	name        MetricName
	description string
	unit        string
}

var counterSpecs = []counterSpec{
	{DerivativeRequested, "Number of received 'get image' requests", "{request}"},
	{DerivativeCacheHit, "Number of derivatives served from disk", "{derivative}"},
	{DerivativeCreated, "Number of generated derivatives", "{derivative}"},
	{PlaceholderServed, "Number of requests answered with the placeholder", "{request}"},
	{UploadSaved, "Number of stored uploads", "{image}"},
	{ImageDeleted, "Number of invalidated images", "{image}"},
	{GenRequestReceived, "Number of received queued 'generate derivative' requests", "{request}"},
	{DelRequestReceived, "Number of received queued 'delete image' requests", "{request}"},
}

type OtelMetricsSvc struct {
	counters      map[MetricName]metric.Int64Counter
	shutDownFuncs []func(ctx context.Context) error
}

var serviceName = semconv.ServiceNameKey.String("imagecache")

func NewOtelMetricsSvc(ctx context.Context) (*OtelMetricsSvc, error) {
	shutDownFuncs, err := initOtel(ctx)
	if err != nil {
		return nil, err
	}
	meter := otel.Meter("imagecache")

	counters := make(map[MetricName]metric.Int64Counter, len(counterSpecs))
	for _, spec := range counterSpecs {
		counter, err := meter.Int64Counter(
			string(spec.name),
			metric.WithDescription(spec.description),
			metric.WithUnit(spec.unit),
		)
		if err != nil {
			return nil, fmt.Errorf(
				"failed to create counter %s: %w",
				spec.name,
				err,
			)
		}
		counters[spec.name] = counter
	}

	return &OtelMetricsSvc{
		counters:      counters,
		shutDownFuncs: shutDownFuncs,
	}, nil
}

func (s *OtelMetricsSvc) Increment(
	metricName MetricName,
	attrs map[string]string,
) {
	counter, ok := s.counters[metricName]
	if !ok {
		slog.Warn("Unknown metric name", "metricName", metricName)
		return
	}

	// Convert attrs map to OpenTelemetry attributes
	kvAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for key, value := range attrs {
		kvAttrs = append(kvAttrs, attribute.String(key, value))
	}

	slog.Debug(
		"Incrementing metric",
		"metricName", metricName,
		"attributes", attrs,
	)
	counter.Add(
		context.Background(),
		1,
		metric.WithAttributeSet(attribute.NewSet(kvAttrs...)),
	)
}

func (s *OtelMetricsSvc) Shutdown(ctx context.Context) error {
	for _, shutdownFunc := range s.shutDownFuncs {
		if err := shutdownFunc(ctx); err != nil {
			slog.Error("Error during OpenTelemetry shutdown", "error", err)
			return err
		}
	}

	slog.Debug("OpenTelemetry services shutdown successfully")
	return nil
}

func initOtel(ctx context.Context) ([]func(ctx context.Context) error, error) {
	slog.Debug("Initializing OpenTelemetry")
	var shutDownFuncs []func(ctx context.Context) error

	conn, err := newCollectorGrpcConn()
	if err != nil {
		return nil, err
	}
	shutDownFuncs = append(shutDownFuncs, func(context.Context) error {
		return conn.Close()
	})

	res, err := newResource(ctx)
	if err != nil {
		return nil, err
	}

	meterProvider, err := newMeterProvider(ctx, res, conn)
	if err != nil {
		return nil, err
	}

	// Flush pending metrics before the connection goes away.
	shutDownFuncs = append(
		[]func(ctx context.Context) error{meterProvider.Shutdown},
		shutDownFuncs...,
	)

	otel.SetMeterProvider(meterProvider)
	return shutDownFuncs, nil
}

func newResource(ctx context.Context) (*resource.Resource, error) {
	res, err := resource.New(ctx, resource.WithAttributes(serviceName))
	if err != nil {
		return nil, fmt.Errorf(
			"failed to create resource for OpenTelemetry: %w",
			err,
		)
	}

	return res, nil
}

// Creates a new gRPC connection to the OpenTelemetry collector.
func newCollectorGrpcConn() (*grpc.ClientConn, error) {
	grpcEndpoint := os.Getenv("OTEL_COLLECTOR_GRPC_ENDPOINT")
	if grpcEndpoint == "" {
		return nil, fmt.Errorf("OTEL_COLLECTOR_GRPC_ENDPOINT is not set")
	}

	conn, err := grpc.NewClient(
		grpcEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to create gRPC connection to collector: %w",
			err,
		)
	}

	return conn, nil
}

func newMeterProvider(
	ctx context.Context,
	res *resource.Resource,
	conn *grpc.ClientConn,
) (*sdkmetric.MeterProvider, error) {
	metricExporter, err := otlpmetricgrpc.New(
		ctx,
		otlpmetricgrpc.WithGRPCConn(conn),
	)
	if err != nil {
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(
			metricExporter,
			sdkmetric.WithInterval(10*time.Second),
		)),
	)

	return meterProvider, nil
}
