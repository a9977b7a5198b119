package monitoring

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/meetsmatch/roommates/internal/database"
	apperrors "github.com/meetsmatch/roommates/internal/errors"
)

func newTestStoreInstrumentation(t *testing.T) (*StoreInstrumentation, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	recorder := tracetest.NewSpanRecorder()
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	inst, err := NewStoreInstrumentationWithProviders("memory", meterProvider.Meter("test"), tracerProvider.Tracer("test"))
	require.NoError(t, err)
	return inst, reader, recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) string {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func seedPair(t *testing.T, store *database.MemoryStore) {
	t.Helper()
	now := time.Now().UTC()
	_, err := store.InsertMatches(context.Background(), []database.Match{
		{ID: "m1", SeekerProfileID: "a", CandidateProfileID: "b", Score: 80, Status: database.MatchStatusPending, CreatedAt: now, UpdatedAt: now},
	})
	require.NoError(t, err)
}

func TestStoreInstrumentation_WrapRecordsOperations(t *testing.T) {
	inst, reader, recorder := newTestStoreInstrumentation(t)
	memory := database.NewMemoryStore()
	seedPair(t, memory)
	store := inst.Wrap(memory)
	ctx := context.Background()

	m, err := store.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)

	_, err = store.GetMatch(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)

	matches, err := store.ListMatchesBySeeker(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	err = store.WithPair(ctx, "b", "a", func(tx database.PairTx) error {
		m, err := tx.Get(ctx, "a", "b")
		require.NoError(t, err)
		m.Status = database.MatchStatusLiked
		return tx.Save(ctx, m)
	})
	require.NoError(t, err)

	metrics := collect(t, reader)
	assert.Equal(t, int64(4), sumOf(t, metrics["store_operations_total"]))

	spans := recorder.Ended()
	require.Len(t, spans, 4)
	assert.Equal(t, "store.get_match", spans[0].Name())
	assert.Equal(t, "ok", spanAttr(spans[0], "outcome"))
	assert.Equal(t, "not_found", spanAttr(spans[1], "outcome"))
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
	assert.Equal(t, "store.with_pair", spans[3].Name())
	assert.Equal(t, "a:b", spanAttr(spans[3], "pair.key"))
	assert.Equal(t, "memory", spanAttr(spans[3], "db.system"))
}

func TestStoreInstrumentation_ConflictMarksSpanAsError(t *testing.T) {
	inst, reader, recorder := newTestStoreInstrumentation(t)
	store := inst.Wrap(database.NewMemoryStore())

	conflict := apperrors.NewPromotionConflictError("a:b", fmt.Errorf("version moved"))
	err := store.WithPair(context.Background(), "a", "b", func(database.PairTx) error { return conflict })
	assert.ErrorIs(t, err, apperrors.ErrPromotionConflict)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "conflict", spanAttr(spans[0], "outcome"))

	metrics := collect(t, reader)
	sum := metrics["store_operations_total"]
	assert.Equal(t, int64(1), sumOf(t, sum))
}

func TestStoreInstrumentation_InsertCountsStored(t *testing.T) {
	inst, _, recorder := newTestStoreInstrumentation(t)
	memory := database.NewMemoryStore()
	seedPair(t, memory)
	store := inst.Wrap(memory)

	now := time.Now().UTC()
	stored, err := store.InsertMatches(context.Background(), []database.Match{
		{ID: "m2", SeekerProfileID: "a", CandidateProfileID: "b", CreatedAt: now},
		{ID: "m3", SeekerProfileID: "a", CandidateProfileID: "c", CreatedAt: now},
	})
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	span := recorder.Ended()[0]
	assert.Contains(t, span.Attributes(), attribute.Int("matches.count", 2))
	assert.Contains(t, span.Attributes(), attribute.Int("matches.stored", 1))
}

func TestStoreInstrumentation_NilWrapIsPassthrough(t *testing.T) {
	var inst *StoreInstrumentation
	memory := database.NewMemoryStore()
	assert.Same(t, memory, inst.Wrap(memory))
}

func TestStoreOutcome(t *testing.T) {
	assert.Equal(t, "ok", storeOutcome(nil))
	assert.Equal(t, "not_found", storeOutcome(fmt.Errorf("wrapped: %w", database.ErrNotFound)))
	assert.Equal(t, "not_transitionable", storeOutcome(apperrors.NewNotTransitionableError("m1", "declined", "like")))
	assert.Equal(t, "error", storeOutcome(fmt.Errorf("boom")))
}
