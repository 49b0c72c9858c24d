package ratelimit

import (
	"math"
	"time"
)

// LeakyBucketState holds the bucket level as of LastLeakAt.
type LeakyBucketState struct {
	Level      float64   `json:"level"`
	LastLeakAt time.Time `json:"last_leak_at"`
	Capacity   float64   `json:"capacity"`
	LeakRate   float64   `json:"leak_rate"`
}

// ExpiresAt is the instant the bucket has fully drained.
func (s *LeakyBucketState) ExpiresAt() time.Time {
	if s.LeakRate <= 0 {
		return s.LastLeakAt
	}
	return s.LastLeakAt.Add(secondsToDuration(s.Level / s.LeakRate))
}

type LeakyBucketParams struct {
	Capacity float64
	LeakRate float64
}

type LeakyBucketDecision struct {
	Allowed    bool
	Level      float64
	LastLeakAt time.Time
	Capacity   float64
	LeakRate   float64
}

// LeakyBucket drains the bucket for the time elapsed since the last call and
// admits one unit while the level is below capacity. The level never exceeds
// capacity, even for a fractional capacity.
func LeakyBucket(state *LeakyBucketState, now time.Time, p LeakyBucketParams) (*LeakyBucketState, LeakyBucketDecision) {
	var level float64
	if state != nil {
		level = math.Max(0, state.Level-elapsedSeconds(state.LastLeakAt, now)*p.LeakRate)
	}

	allowed := level < p.Capacity
	if allowed {
		level = math.Min(p.Capacity, level+1)
	}

	next := &LeakyBucketState{
		Level:      level,
		LastLeakAt: now,
		Capacity:   p.Capacity,
		LeakRate:   p.LeakRate,
	}
	return next, LeakyBucketDecision{
		Allowed:    allowed,
		Level:      level,
		LastLeakAt: now,
		Capacity:   p.Capacity,
		LeakRate:   p.LeakRate,
	}
}
