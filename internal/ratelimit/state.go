// Package ratelimit implements the four limiting algorithms as pure functions
// of (current state, now, parameters) → (next state, decision).
//
// A key's limiter state is a State holding one optional slot per algorithm.
// Slots are immutable once built: every algorithm returns a freshly allocated
// slot and never modifies its input, so a State can be shared between
// goroutines after it has been published.
package ratelimit

import (
	"math"
	"time"
)

// DefaultRetention is how long sliding-window timestamps are retained,
// independent of the window a caller requests.
const DefaultRetention = time.Hour

// MaxWindow is the longest window the windowed algorithms honour. Longer or
// non-positive windows are treated as MaxWindow, which only ever limits more.
const MaxWindow = 365 * 24 * time.Hour

// Algorithm names a limiting algorithm.
type Algorithm string

const (
	AlgorithmFixedWindow   Algorithm = "fixed_window"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmTokenBucket   Algorithm = "token_bucket"
	AlgorithmLeakyBucket   Algorithm = "leaky_bucket"
)

// State is the complete limiter state of one key. A nil slot means the key
// has never been checked with that algorithm, or its state has drained.
type State struct {
	FixedWindow   *FixedWindowState   `json:"fixed_window,omitempty"`
	SlidingWindow *SlidingWindowState `json:"sliding_window,omitempty"`
	TokenBucket   *TokenBucketState   `json:"token_bucket,omitempty"`
	LeakyBucket   *LeakyBucketState   `json:"leaky_bucket,omitempty"`
}

// Empty reports whether no algorithm holds state for the key.
func (s State) Empty() bool {
	return s.FixedWindow == nil && s.SlidingWindow == nil && s.TokenBucket == nil && s.LeakyBucket == nil
}

// ExpiresAt returns the latest instant at which any slot still differs from
// its default. The zero time means the state is empty.
func (s State) ExpiresAt(retention time.Duration) time.Time {
	var latest time.Time
	consider := func(t time.Time) {
		if t.After(latest) {
			latest = t
		}
	}
	if s.FixedWindow != nil {
		consider(s.FixedWindow.ExpiresAt())
	}
	if s.SlidingWindow != nil {
		consider(s.SlidingWindow.ExpiresAt(retention))
	}
	if s.TokenBucket != nil {
		consider(s.TokenBucket.ExpiresAt())
	}
	if s.LeakyBucket != nil {
		consider(s.LeakyBucket.ExpiresAt())
	}
	return latest
}

// Prune drops every slot that has expired at now and trims sliding-window
// timestamps older than the retention horizon.
func (s State) Prune(now time.Time, retention time.Duration) State {
	s = s.SweepWindows(now, retention)
	if s.TokenBucket != nil && !now.Before(s.TokenBucket.ExpiresAt()) {
		s.TokenBucket = nil
	}
	if s.LeakyBucket != nil && !now.Before(s.LeakyBucket.ExpiresAt()) {
		s.LeakyBucket = nil
	}
	return s
}

// SweepWindows drops an elapsed fixed window and a sliding log that is empty
// after the retention filter. Bucket slots are left alone.
func (s State) SweepWindows(now time.Time, retention time.Duration) State {
	if s.FixedWindow != nil && s.FixedWindow.Elapsed(now) {
		s.FixedWindow = nil
	}
	if s.SlidingWindow != nil {
		retained := s.SlidingWindow.retained(now, retention)
		switch {
		case len(retained) == 0:
			s.SlidingWindow = nil
		case len(retained) != len(s.SlidingWindow.Timestamps):
			s.SlidingWindow = &SlidingWindowState{Timestamps: retained}
		}
	}
	return s
}

// Equal reports whether two states hold the same slot pointers.
func (s State) Equal(other State) bool {
	return s.FixedWindow == other.FixedWindow &&
		s.SlidingWindow == other.SlidingWindow &&
		s.TokenBucket == other.TokenBucket &&
		s.LeakyBucket == other.LeakyBucket
}

// maxDrainSeconds caps computed drain times so they stay representable as a
// time.Duration.
const maxDrainSeconds = 100 * 365 * 24 * 60 * 60

func secondsToDuration(seconds float64) time.Duration {
	if math.IsNaN(seconds) || seconds <= 0 {
		return 0
	}
	if seconds > maxDrainSeconds {
		seconds = maxDrainSeconds
	}
	return time.Duration(seconds * float64(time.Second))
}

func clampWindow(window time.Duration) time.Duration {
	if window <= 0 || window > MaxWindow {
		return MaxWindow
	}
	return window
}

func elapsedSeconds(since, now time.Time) float64 {
	if since.IsZero() || !now.After(since) {
		return 0
	}
	return now.Sub(since).Seconds()
}
