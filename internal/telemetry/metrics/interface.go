package metrics

import (
	"context"
)

// Custom type to represent a metric name,
// providing a type-safe way to handle metric names.
type MetricName string

const (
	DerivativeRequested MetricName = "derivative.request.received"
	DerivativeCacheHit  MetricName = "derivative.cache.hit"
	DerivativeCreated   MetricName = "derivative.created"
	PlaceholderServed   MetricName = "derivative.placeholder.served"
	UploadSaved         MetricName = "upload.saved"
	ImageDeleted        MetricName = "image.deleted"

	GenRequestReceived MetricName = "queue.gen.request.received"
	DelRequestReceived MetricName = "queue.del.request.received"
)

type MetricsSvc interface {
	Increment(metric MetricName, attrs map[string]string)
	Shutdown(ctx context.Context) error
}
