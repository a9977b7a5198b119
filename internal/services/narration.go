package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meetsmatch/roommates/internal/cache"
	"github.com/meetsmatch/roommates/internal/database"
	apperrors "github.com/meetsmatch/roommates/internal/errors"
	"github.com/meetsmatch/roommates/internal/interfaces"
	"github.com/meetsmatch/roommates/internal/monitoring"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

// DefaultNarrationTimeout bounds a single narrator call.
const DefaultNarrationTimeout = 5 * time.Second

// FallbackNarration is the text served whenever the narrator cannot answer.
func FallbackNarration(score int) string {
	return fmt.Sprintf("You have a %d%% compatibility match, sharing similar budget and lifestyle preferences.", score)
}

// NarrationService wraps an optional narrator. It never fails: errors,
// timeouts, empty answers and a missing narrator all yield FallbackNarration.
type NarrationService struct {
	narrator interfaces.Narrator
	cache    interfaces.Cache
	metrics  *monitoring.MatchingInstrumentation
	timeout  time.Duration
}

func NewNarrationService(narrator interfaces.Narrator, c interfaces.Cache, metrics *monitoring.MatchingInstrumentation, timeout time.Duration) *NarrationService {
	if timeout <= 0 {
		timeout = DefaultNarrationTimeout
	}
	return &NarrationService{
		narrator: narrator,
		cache:    c,
		metrics:  metrics,
		timeout:  timeout,
	}
}

// Explain returns a short explanation of score for profiles a and b.
func (s *NarrationService) Explain(ctx context.Context, a, b *database.Profile, score int) string {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "explain_match",
		"score":     score,
	})

	if s == nil || s.narrator == nil {
		return FallbackNarration(score)
	}

	key := cache.NarrationKey(database.PairKey(a.ID, b.ID), score)
	if s.cache != nil {
		var cached string
		if err := s.cache.GetCache(ctx, key, &cached); err == nil && cached != "" {
			return cached
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.narrate(callCtx, a, b, score)
	text = strings.TrimSpace(text)
	switch {
	case err != nil:
		reason := "error"
		if callCtx.Err() == context.DeadlineExceeded {
			reason = "timeout"
			err = apperrors.NewTimeoutError("narrate", s.timeout).WithDetails(err.Error())
		}
		logger.WithError(err).WithField("reason", reason).Warn("Narrator failed, using fallback")
		s.metrics.RecordNarrationFallback(ctx, reason)
		return FallbackNarration(score)
	case text == "":
		logger.Warn("Narrator returned no text, using fallback")
		s.metrics.RecordNarrationFallback(ctx, "empty")
		return FallbackNarration(score)
	}

	if s.cache != nil {
		if err := s.cache.SetCache(ctx, key, text, cache.NarrationTTL); err != nil {
			logger.WithError(err).Debug("Failed to cache narration")
		}
	}
	return text
}

type narration struct {
	text string
	err  error
}

// narrate runs the narrator on its own goroutine and stops waiting when ctx
// is done, whether or not the narrator honours ctx. A panic becomes an error.
func (s *NarrationService) narrate(ctx context.Context, a, b *database.Profile, score int) (string, error) {
	done := make(chan narration, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- narration{err: fmt.Errorf("narrator panicked: %v", r)}
			}
		}()
		text, err := s.narrator.Narrate(ctx, a, b, score)
		done <- narration{text: text, err: err}
	}()

	select {
	case n := <-done:
		return n.text, n.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
