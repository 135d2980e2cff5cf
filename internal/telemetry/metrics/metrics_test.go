package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterSpecsAreUnique(t *testing.T) {
	seen := make(map[MetricName]bool)
	for _, spec := range counterSpecs {
		assert.False(t, seen[spec.name], "duplicate counter %s", spec.name)
		assert.NotEmpty(t, spec.description)
		seen[spec.name] = true
	}
	assert.Len(t, seen, 8)
}

func TestRecordingMetricsSvc(t *testing.T) {
	r := NewRecordingMetricsSvc()
	r.Increment(DerivativeCreated, nil)
	r.Increment(DerivativeCreated, map[string]string{"type": "thumb"})
	r.Increment(ImageDeleted, nil)

	assert.Equal(t, 2, r.Count(DerivativeCreated))
	assert.Equal(t, 1, r.Count(ImageDeleted))
	assert.Equal(t, 0, r.Count(UploadSaved))
	assert.NoError(t, r.Shutdown(context.Background()))
}

func TestNoopMetricsSvc(t *testing.T) {
	n := NewNoopMetricsSvc()
	n.Increment(DerivativeCreated, nil)
	assert.NoError(t, n.Shutdown(context.Background()))
}
