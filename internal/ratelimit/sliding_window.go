package ratelimit

import (
	"sort"
	"time"
)

// SlidingWindowState is the log of admitted request times, oldest first.
type SlidingWindowState struct {
	Timestamps []time.Time `json:"timestamps"`
}

// ExpiresAt is the instant the newest timestamp falls out of retention.
func (s *SlidingWindowState) ExpiresAt(retention time.Duration) time.Time {
	if len(s.Timestamps) == 0 {
		return time.Time{}
	}
	return s.Timestamps[len(s.Timestamps)-1].Add(retention)
}

// retained returns the timestamps at or after now-retention. The returned
// slice shares its backing array with s and must not be modified.
func (s *SlidingWindowState) retained(now time.Time, retention time.Duration) []time.Time {
	return since(s.Timestamps, now.Add(-retention))
}

func since(timestamps []time.Time, cutoff time.Time) []time.Time {
	i := sort.Search(len(timestamps), func(i int) bool {
		return !timestamps[i].Before(cutoff)
	})
	return timestamps[i:]
}

type SlidingWindowParams struct {
	Limit     int64
	Window    time.Duration
	Retention time.Duration
}

// SlidingWindowDecision reports a sliding-window check. Oldest and ResetAt are
// set only on denial.
type SlidingWindowDecision struct {
	Allowed bool
	Count   int64
	Limit   int64
	Oldest  time.Time
	ResetAt time.Time
}

// SlidingWindow applies one sliding-window log check. Timestamps older than
// the retention horizon are discarded whatever the requested window, so a
// window longer than the retention under-counts.
func SlidingWindow(state *SlidingWindowState, now time.Time, p SlidingWindowParams) (*SlidingWindowState, SlidingWindowDecision) {
	p.Window = clampWindow(p.Window)
	retention := p.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}

	var kept []time.Time
	if state != nil {
		kept = state.retained(now, retention)
	}
	inWindow := since(kept, now.Add(-p.Window))
	count := int64(len(inWindow))

	if count >= p.Limit {
		oldest := inWindow[0]
		next := state
		if len(kept) != len(state.Timestamps) {
			next = &SlidingWindowState{Timestamps: kept}
		}
		return next, SlidingWindowDecision{
			Allowed: false,
			Count:   count,
			Limit:   p.Limit,
			Oldest:  oldest,
			ResetAt: oldest.Add(p.Window),
		}
	}

	// Insert in order; a clock step backwards must not break the search
	// invariant the filters rely on.
	pos := sort.Search(len(kept), func(i int) bool { return kept[i].After(now) })
	timestamps := make([]time.Time, 0, len(kept)+1)
	timestamps = append(timestamps, kept[:pos]...)
	timestamps = append(timestamps, now)
	timestamps = append(timestamps, kept[pos:]...)

	return &SlidingWindowState{Timestamps: timestamps}, SlidingWindowDecision{
		Allowed: true,
		Count:   count + 1,
		Limit:   p.Limit,
	}
}
