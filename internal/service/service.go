// Package service exposes the limiter operations on top of a coordinator:
// request validation, algorithm dispatch and translation of decisions into
// wire responses.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"ratekeeper/internal/coordinator"
	"ratekeeper/internal/models"
	"ratekeeper/internal/ratelimit"
)

// Service runs limiter checks for every algorithm against a shared coordinator
type Service struct {
	coord     *coordinator.Coordinator
	decisions metric.Int64Counter
}

// NewService creates a new limiter service backed by the given coordinator
func NewService(coord *coordinator.Coordinator) (*Service, error) {
	meter := otel.Meter("ratekeeper/service")
	decisions, err := meter.Int64Counter(
		"ratekeeper.decisions",
		metric.WithDescription("Number of limiter decisions by algorithm and outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}
	return &Service{coord: coord, decisions: decisions}, nil
}

// CheckFixedWindow counts one request against the key's current window
func (s *Service) CheckFixedWindow(ctx context.Context, req *models.FixedWindowRequest) (*models.FixedWindowResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, NewValidationError("invalid fixed window request", err)
	}
	req.Normalize()

	params := ratelimit.FixedWindowParams{Limit: req.Limit, Window: req.WindowDuration()}
	var decision ratelimit.FixedWindowDecision
	err := s.coord.Apply(ctx, req.Key, func(current ratelimit.State, now time.Time) (ratelimit.State, error) {
		current.FixedWindow, decision = ratelimit.FixedWindow(current.FixedWindow, now, params)
		return current, nil
	})
	if err != nil {
		return nil, translate("fixed window check", err)
	}
	s.record(ctx, ratelimit.AlgorithmFixedWindow, decision.Allowed)

	return &models.FixedWindowResponse{
		Allowed: decision.Allowed,
		Count:   decision.Count,
		ResetAt: models.UnixMilli(decision.ResetAt),
		Limit:   decision.Limit,
	}, nil
}

// CheckSlidingWindow counts one request against the key's timestamp log
func (s *Service) CheckSlidingWindow(ctx context.Context, req *models.SlidingWindowRequest) (*models.SlidingWindowResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, NewValidationError("invalid sliding window request", err)
	}
	req.Normalize()

	params := ratelimit.SlidingWindowParams{
		Limit:     req.Limit,
		Window:    req.WindowDuration(),
		Retention: s.coord.Retention(),
	}
	var decision ratelimit.SlidingWindowDecision
	err := s.coord.Apply(ctx, req.Key, func(current ratelimit.State, now time.Time) (ratelimit.State, error) {
		current.SlidingWindow, decision = ratelimit.SlidingWindow(current.SlidingWindow, now, params)
		return current, nil
	})
	if err != nil {
		return nil, translate("sliding window check", err)
	}
	s.record(ctx, ratelimit.AlgorithmSlidingWindow, decision.Allowed)

	response := &models.SlidingWindowResponse{
		Allowed: decision.Allowed,
		Count:   decision.Count,
		Limit:   decision.Limit,
	}
	if !decision.Allowed {
		oldest := models.UnixMilli(decision.Oldest)
		resetAt := models.UnixMilli(decision.ResetAt)
		response.OldestRequest = &oldest
		response.ResetAt = &resetAt
	}
	return response, nil
}

// CheckTokenBucket refills the key's bucket and spends the request cost
func (s *Service) CheckTokenBucket(ctx context.Context, req *models.TokenBucketRequest) (*models.TokenBucketResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, NewValidationError("invalid token bucket request", err)
	}
	req.Normalize()

	params := ratelimit.TokenBucketParams{
		Capacity:   req.Capacity,
		RefillRate: req.RefillRate,
		Cost:       req.Cost(),
	}
	var decision ratelimit.TokenBucketDecision
	err := s.coord.Apply(ctx, req.Key, func(current ratelimit.State, now time.Time) (ratelimit.State, error) {
		current.TokenBucket, decision = ratelimit.TokenBucket(current.TokenBucket, now, params)
		return current, nil
	})
	if err != nil {
		return nil, translate("token bucket check", err)
	}
	s.record(ctx, ratelimit.AlgorithmTokenBucket, decision.Allowed)

	return &models.TokenBucketResponse{
		Allowed:         decision.Allowed,
		TokensRemaining: decision.TokensRemaining,
		LastRefillAt:    models.UnixMilli(decision.LastRefillAt),
		Capacity:        decision.Capacity,
		RefillRate:      decision.RefillRate,
	}, nil
}

// CheckLeakyBucket drains the key's bucket and adds one unit if it fits
func (s *Service) CheckLeakyBucket(ctx context.Context, req *models.LeakyBucketRequest) (*models.LeakyBucketResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, NewValidationError("invalid leaky bucket request", err)
	}
	req.Normalize()

	params := ratelimit.LeakyBucketParams{Capacity: req.Capacity, LeakRate: req.LeakRate}
	var decision ratelimit.LeakyBucketDecision
	err := s.coord.Apply(ctx, req.Key, func(current ratelimit.State, now time.Time) (ratelimit.State, error) {
		current.LeakyBucket, decision = ratelimit.LeakyBucket(current.LeakyBucket, now, params)
		return current, nil
	})
	if err != nil {
		return nil, translate("leaky bucket check", err)
	}
	s.record(ctx, ratelimit.AlgorithmLeakyBucket, decision.Allowed)

	return &models.LeakyBucketResponse{
		Allowed:    decision.Allowed,
		Level:      decision.Level,
		LastLeakAt: models.UnixMilli(decision.LastLeakAt),
		Capacity:   decision.Capacity,
		LeakRate:   decision.LeakRate,
	}, nil
}

// Usage reports the key's fixed-window count without consuming anything.
// A key without a live window reports zeros.
func (s *Service) Usage(ctx context.Context, key string) (*models.UsageResponse, error) {
	if err := models.ValidateKey(key); err != nil {
		return nil, NewValidationError("invalid usage request", err)
	}
	key = normalizeKey(key)

	response := &models.UsageResponse{}
	err := s.coord.View(ctx, key, func(current ratelimit.State, now time.Time) {
		window := current.FixedWindow
		if window == nil || window.Elapsed(now) {
			return
		}
		response.Count = window.Count
		response.ResetAt = models.UnixMilli(window.WindowResetAt)
	})
	if err != nil {
		return nil, translate("usage lookup", err)
	}
	return response, nil
}

// Reset clears all algorithms' state for the key, in memory and durably
func (s *Service) Reset(ctx context.Context, req *models.ResetRequest) (*models.ResetResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, NewValidationError("invalid reset request", err)
	}
	req.Normalize()

	if err := s.coord.Reset(ctx, req.Key); err != nil {
		return nil, translate("reset", err)
	}
	return &models.ResetResponse{
		Key:     req.Key,
		Message: "Rate limit state reset",
	}, nil
}

// ListAll returns the live fixed windows held in this instance's memory,
// ordered by key. Keys owned by other instances are not included.
func (s *Service) ListAll(ctx context.Context) (*models.ListResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, translate("list", err)
	}

	now := s.coord.Now()
	snapshot := s.coord.Snapshot()
	entries := make([]models.WindowEntry, 0, len(snapshot))
	for key, state := range snapshot {
		window := state.FixedWindow
		if window == nil || window.Elapsed(now) {
			continue
		}
		entries = append(entries, models.WindowEntry{
			Key:     key,
			Count:   window.Count,
			Limit:   window.Limit,
			ResetAt: models.UnixMilli(window.WindowResetAt),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	return &models.ListResponse{
		Entries:    entries,
		TotalCount: len(entries),
		Owner:      s.coord.Owner(),
	}, nil
}

func (s *Service) record(ctx context.Context, algorithm ratelimit.Algorithm, allowed bool) {
	s.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("algorithm", string(algorithm)),
		attribute.Bool("allowed", allowed),
	))
}

func normalizeKey(key string) string {
	req := models.ResetRequest{Key: key}
	req.Normalize()
	return req.Key
}

// translate maps coordinator failures onto service errors.
func translate(op string, err error) error {
	var persistErr *coordinator.PersistenceError
	var fieldErr *models.FieldError
	switch {
	case errors.As(err, &fieldErr):
		return NewValidationError(op+" failed validation", err)
	case errors.As(err, &persistErr):
		return NewUnavailableError("rate limit store unavailable", err)
	case errors.Is(err, coordinator.ErrClosed):
		return NewUnavailableError("rate limiter is shutting down", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewCanceledError(op+" was not started", err)
	default:
		return NewInternalError(op+" failed", err)
	}
}
