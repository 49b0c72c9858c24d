package ratelimit

import "time"

// FixedWindowState counts requests in the current window. Count is only
// meaningful while now is before WindowResetAt.
type FixedWindowState struct {
	Count         int64     `json:"count"`
	WindowResetAt time.Time `json:"window_reset_at"`
	Limit         int64     `json:"limit"`
}

// Elapsed reports whether the window has ended at now. Arriving exactly at
// WindowResetAt counts as elapsed.
func (s *FixedWindowState) Elapsed(now time.Time) bool {
	return !now.Before(s.WindowResetAt)
}

func (s *FixedWindowState) ExpiresAt() time.Time {
	return s.WindowResetAt
}

type FixedWindowParams struct {
	Limit  int64
	Window time.Duration
}

type FixedWindowDecision struct {
	Allowed bool
	Count   int64
	ResetAt time.Time
	Limit   int64
}

// FixedWindow applies one fixed-window check. A missing or elapsed window
// starts fresh with a count of 1. A full window denies without counting the
// rejected request.
func FixedWindow(state *FixedWindowState, now time.Time, p FixedWindowParams) (*FixedWindowState, FixedWindowDecision) {
	p.Window = clampWindow(p.Window)
	if state == nil || state.Elapsed(now) {
		next := &FixedWindowState{Count: 1, WindowResetAt: now.Add(p.Window), Limit: p.Limit}
		return next, FixedWindowDecision{Allowed: true, Count: 1, ResetAt: next.WindowResetAt, Limit: p.Limit}
	}

	if state.Count < p.Limit {
		next := &FixedWindowState{Count: state.Count + 1, WindowResetAt: state.WindowResetAt, Limit: p.Limit}
		return next, FixedWindowDecision{Allowed: true, Count: next.Count, ResetAt: next.WindowResetAt, Limit: p.Limit}
	}

	return state, FixedWindowDecision{Allowed: false, Count: state.Count, ResetAt: state.WindowResetAt, Limit: p.Limit}
}
