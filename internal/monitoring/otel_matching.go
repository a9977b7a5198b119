package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName    = "github.com/meetsmatch/roommates/internal/monitoring"
	instrumentationVersion = "1.0.0"
)

// MatchingInstrumentation records matching activity as OpenTelemetry metrics.
type MatchingInstrumentation struct {
	matchesGenerated   metric.Int64Counter
	transitions        metric.Int64Counter
	promotions         metric.Int64Counter
	promotionConflicts metric.Int64Counter
	narrationFallbacks metric.Int64Counter
	generationDuration metric.Float64Histogram
}

// NewMatchingInstrumentation builds the instruments on the global meter provider.
func NewMatchingInstrumentation() (*MatchingInstrumentation, error) {
	return NewMatchingInstrumentationWithMeter(
		otel.Meter(instrumentationName, metric.WithInstrumentationVersion(instrumentationVersion)),
	)
}

// NewMatchingInstrumentationWithMeter builds the instruments on meter.
func NewMatchingInstrumentationWithMeter(meter metric.Meter) (*MatchingInstrumentation, error) {
	matchesGenerated, err := meter.Int64Counter(
		"matching_matches_generated_total",
		metric.WithDescription("Number of match proposals stored by generation runs"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create matching_matches_generated_total counter: %w", err)
	}

	transitions, err := meter.Int64Counter(
		"matching_transitions_total",
		metric.WithDescription("Number of lifecycle transitions by operation and outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create matching_transitions_total counter: %w", err)
	}

	promotions, err := meter.Int64Counter(
		"matching_mutual_promotions_total",
		metric.WithDescription("Number of pairs promoted to mutual"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create matching_mutual_promotions_total counter: %w", err)
	}

	promotionConflicts, err := meter.Int64Counter(
		"matching_promotion_conflicts_total",
		metric.WithDescription("Number of pair sections that failed with a retryable conflict"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create matching_promotion_conflicts_total counter: %w", err)
	}

	narrationFallbacks, err := meter.Int64Counter(
		"matching_narration_fallbacks_total",
		metric.WithDescription("Number of explanations served from the fallback text"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create matching_narration_fallbacks_total counter: %w", err)
	}

	generationDuration, err := meter.Float64Histogram(
		"matching_generation_duration_seconds",
		metric.WithDescription("Duration of a generation run in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create matching_generation_duration_seconds histogram: %w", err)
	}

	return &MatchingInstrumentation{
		matchesGenerated:   matchesGenerated,
		transitions:        transitions,
		promotions:         promotions,
		promotionConflicts: promotionConflicts,
		narrationFallbacks: narrationFallbacks,
		generationDuration: generationDuration,
	}, nil
}

// RecordGeneration records one generation run. Safe on a nil receiver.
func (m *MatchingInstrumentation) RecordGeneration(ctx context.Context, stored int, duration time.Duration) {
	if m == nil {
		return
	}
	m.matchesGenerated.Add(ctx, int64(stored))
	m.generationDuration.Record(ctx, duration.Seconds())
}

// RecordTransition records a lifecycle operation and whether it succeeded.
func (m *MatchingInstrumentation) RecordTransition(ctx context.Context, operation, outcome string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func (m *MatchingInstrumentation) RecordPromotion(ctx context.Context, conversationPending bool) {
	if m == nil {
		return
	}
	m.promotions.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("conversation_pending", conversationPending),
	))
}

func (m *MatchingInstrumentation) RecordConflict(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.promotionConflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

func (m *MatchingInstrumentation) RecordNarrationFallback(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.narrationFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
