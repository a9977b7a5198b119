package monitoring

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/meetsmatch/roommates/internal/database"
	apperrors "github.com/meetsmatch/roommates/internal/errors"
	"github.com/meetsmatch/roommates/internal/interfaces"
)

// StoreInstrumentation traces and measures match store operations for one driver.
type StoreInstrumentation struct {
	tracer trace.Tracer
	meter  metric.Meter
	driver string

	operationTotal    metric.Int64Counter
	operationDuration metric.Float64Histogram
}

// NewStoreInstrumentation builds the instruments on the global providers.
func NewStoreInstrumentation(driver string) (*StoreInstrumentation, error) {
	return NewStoreInstrumentationWithProviders(driver,
		otel.Meter(instrumentationName, metric.WithInstrumentationVersion(instrumentationVersion)),
		otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(instrumentationVersion)),
	)
}

// NewStoreInstrumentationWithProviders builds the instruments on meter and tracer.
func NewStoreInstrumentationWithProviders(driver string, meter metric.Meter, tracer trace.Tracer) (*StoreInstrumentation, error) {
	operationTotal, err := meter.Int64Counter(
		"store_operations_total",
		metric.WithDescription("Number of match store operations by operation and outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store_operations_total counter: %w", err)
	}

	operationDuration, err := meter.Float64Histogram(
		"store_operation_duration_seconds",
		metric.WithDescription("Match store operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store_operation_duration_seconds histogram: %w", err)
	}

	return &StoreInstrumentation{
		tracer:            tracer,
		meter:             meter,
		driver:            driver,
		operationTotal:    operationTotal,
		operationDuration: operationDuration,
	}, nil
}

// ObservePool reports the connection pool of db as observable gauges.
func (s *StoreInstrumentation) ObservePool(db *sql.DB) error {
	open, err := s.meter.Int64ObservableGauge(
		"db_connections_open",
		metric.WithDescription("Number of established database connections"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_connections_open gauge: %w", err)
	}
	inUse, err := s.meter.Int64ObservableGauge(
		"db_connections_in_use",
		metric.WithDescription("Number of database connections currently in use"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_connections_in_use gauge: %w", err)
	}
	idle, err := s.meter.Int64ObservableGauge(
		"db_connections_idle",
		metric.WithDescription("Number of idle database connections"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_connections_idle gauge: %w", err)
	}

	attrs := metric.WithAttributes(attribute.String("db.system", s.driver))
	_, err = s.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := db.Stats()
		o.ObserveInt64(open, int64(stats.OpenConnections), attrs)
		o.ObserveInt64(inUse, int64(stats.InUse), attrs)
		o.ObserveInt64(idle, int64(stats.Idle), attrs)
		return nil
	}, open, inUse, idle)
	if err != nil {
		return fmt.Errorf("failed to register pool callback: %w", err)
	}
	return nil
}

// Wrap returns store with every operation traced and measured.
func (s *StoreInstrumentation) Wrap(store interfaces.MatchStore) interfaces.MatchStore {
	if s == nil {
		return store
	}
	return &instrumentedStore{next: store, inst: s}
}

func (s *StoreInstrumentation) start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("db.system", s.driver),
		attribute.String("db.operation", operation),
	)
	return s.tracer.Start(ctx, "store."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func (s *StoreInstrumentation) finish(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	outcome := storeOutcome(err)
	if outcome == "error" || outcome == "conflict" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	span.End()

	attrs := metric.WithAttributes(
		attribute.String("db.system", s.driver),
		attribute.String("db.operation", operation),
		attribute.String("outcome", outcome),
	)
	s.operationTotal.Add(ctx, 1, attrs)
	s.operationDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

func storeOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case stderrors.Is(err, database.ErrNotFound):
		return "not_found"
	case stderrors.Is(err, apperrors.ErrPromotionConflict):
		return "conflict"
	case stderrors.Is(err, apperrors.ErrNotTransitionable):
		return "not_transitionable"
	}
	return "error"
}

type instrumentedStore struct {
	next interfaces.MatchStore
	inst *StoreInstrumentation
}

func (s *instrumentedStore) InsertMatches(ctx context.Context, matches []database.Match) ([]database.Match, error) {
	ctx, span := s.inst.start(ctx, "insert_matches", attribute.Int("matches.count", len(matches)))
	start := time.Now()
	stored, err := s.next.InsertMatches(ctx, matches)
	span.SetAttributes(attribute.Int("matches.stored", len(stored)))
	s.inst.finish(ctx, span, "insert_matches", start, err)
	return stored, err
}

func (s *instrumentedStore) GetMatch(ctx context.Context, id string) (*database.Match, error) {
	ctx, span := s.inst.start(ctx, "get_match", attribute.String("match.id", id))
	start := time.Now()
	m, err := s.next.GetMatch(ctx, id)
	s.inst.finish(ctx, span, "get_match", start, err)
	return m, err
}

func (s *instrumentedStore) ListMatchesBySeeker(ctx context.Context, seekerID string) ([]database.Match, error) {
	ctx, span := s.inst.start(ctx, "list_matches_by_seeker", attribute.String("profile.id", seekerID))
	start := time.Now()
	matches, err := s.next.ListMatchesBySeeker(ctx, seekerID)
	s.inst.finish(ctx, span, "list_matches_by_seeker", start, err)
	return matches, err
}

func (s *instrumentedStore) WithPair(ctx context.Context, a, b string, fn func(tx database.PairTx) error) error {
	ctx, span := s.inst.start(ctx, "with_pair", attribute.String("pair.key", database.PairKey(a, b)))
	start := time.Now()
	err := s.next.WithPair(ctx, a, b, fn)
	s.inst.finish(ctx, span, "with_pair", start, err)
	return err
}
