package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestInstrumentation(t *testing.T) (*MatchingInstrumentation, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	inst, err := NewMatchingInstrumentationWithMeter(provider.Meter("test"))
	require.NoError(t, err)
	return inst, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMatchingInstrumentation_Record(t *testing.T) {
	inst, reader := newTestInstrumentation(t)
	ctx := context.Background()

	inst.RecordGeneration(ctx, 4, 20*time.Millisecond)
	inst.RecordGeneration(ctx, 1, 5*time.Millisecond)
	inst.RecordTransition(ctx, "like", "ok")
	inst.RecordTransition(ctx, "decline", "not_transitionable")
	inst.RecordPromotion(ctx, false)
	inst.RecordConflict(ctx, "like")
	inst.RecordNarrationFallback(ctx, "timeout")

	metrics := collect(t, reader)
	assert.Equal(t, int64(5), sumOf(t, metrics["matching_matches_generated_total"]))
	assert.Equal(t, int64(2), sumOf(t, metrics["matching_transitions_total"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["matching_mutual_promotions_total"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["matching_promotion_conflicts_total"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["matching_narration_fallbacks_total"]))

	hist, ok := metrics["matching_generation_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
}

func TestMatchingInstrumentation_NilSafe(t *testing.T) {
	var inst *MatchingInstrumentation
	assert.NotPanics(t, func() {
		inst.RecordGeneration(context.Background(), 1, time.Second)
		inst.RecordTransition(context.Background(), "like", "ok")
		inst.RecordPromotion(context.Background(), true)
		inst.RecordConflict(context.Background(), "like")
		inst.RecordNarrationFallback(context.Background(), "error")
	})
}
