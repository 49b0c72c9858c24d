package ratelimit

import (
	"math"
	"time"
)

// TokenBucketState holds the token balance as of LastRefillAt.
type TokenBucketState struct {
	Tokens       float64   `json:"tokens"`
	LastRefillAt time.Time `json:"last_refill_at"`
	Capacity     float64   `json:"capacity"`
	RefillRate   float64   `json:"refill_rate"`
}

// ExpiresAt is the instant the bucket is full again, after which it is
// indistinguishable from a new bucket.
func (s *TokenBucketState) ExpiresAt() time.Time {
	if s.RefillRate <= 0 {
		return s.LastRefillAt
	}
	return s.LastRefillAt.Add(secondsToDuration((s.Capacity - s.Tokens) / s.RefillRate))
}

type TokenBucketParams struct {
	Capacity   float64
	RefillRate float64
	Cost       float64
}

type TokenBucketDecision struct {
	Allowed         bool
	TokensRemaining float64
	LastRefillAt    time.Time
	Capacity        float64
	RefillRate      float64
}

// TokenBucket refills the bucket for the time elapsed since the last call,
// then spends Cost tokens if enough are available. The refill is kept and
// LastRefillAt advances even when the request is denied.
func TokenBucket(state *TokenBucketState, now time.Time, p TokenBucketParams) (*TokenBucketState, TokenBucketDecision) {
	tokens := p.Capacity
	if state != nil {
		tokens = math.Min(p.Capacity, state.Tokens+elapsedSeconds(state.LastRefillAt, now)*p.RefillRate)
	}

	allowed := tokens >= p.Cost
	if allowed {
		tokens -= p.Cost
	}

	next := &TokenBucketState{
		Tokens:       tokens,
		LastRefillAt: now,
		Capacity:     p.Capacity,
		RefillRate:   p.RefillRate,
	}
	return next, TokenBucketDecision{
		Allowed:         allowed,
		TokensRemaining: tokens,
		LastRefillAt:    now,
		Capacity:        p.Capacity,
		RefillRate:      p.RefillRate,
	}
}
