package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextfs/contextfs/internal/config"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(&config.MetricsConfig{Namespace: "contextfs"}, nil)
	require.NoError(t, err)
	return c
}

func TestRecordRead(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	c.RecordRead(false, nil, 5*time.Millisecond)
	c.RecordRead(true, nil, 0)
	c.RecordRead(false, assert.AnError, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.readCounter.WithLabelValues("disk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.readCounter.WithLabelValues("cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.readCounter.WithLabelValues("error")))
}

func TestRecordUpdate(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	c.RecordUpdate("single", true, time.Millisecond)
	c.RecordUpdate("cascade", false, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.updateCounter.WithLabelValues("single", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.updateCounter.WithLabelValues("cascade", "failure")))
}

func TestRecordCacheLookupAndErrors(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	c.RecordCacheLookup(true)
	c.RecordCacheLookup(true)
	c.RecordCacheLookup(false)
	c.RecordError("QUEUE_FULL")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheHitCounter.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHitCounter.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errorCounter.WithLabelValues("QUEUE_FULL")))
}

func TestGauges(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	c.SetCacheBytes(4096)
	c.SetGraphShape(12, 30)
	c.SetQueueDepth(3)

	assert.Equal(t, 4096.0, testutil.ToFloat64(c.cacheBytesGauge))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.graphNodesGauge))
	assert.Equal(t, 30.0, testutil.ToFloat64(c.graphEdgesGauge))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.queueDepthGauge))
}

func TestRegistryGathers(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	c.RecordRead(false, nil, time.Millisecond)

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	var found bool
	for _, mf := range families {
		if mf.GetName() == "contextfs_reads_total" {
			found = true
		}
	}
	assert.True(t, found, "reads_total not registered")
}
