// Package models - API request types and input validation.
// This file defines the incoming check/usage/reset request structures.
//
// Validation Philosophy:
// - Fail fast with a field-specific error before any limiter state is touched
// - Normalize keys (trim surrounding whitespace) for consistent routing
// - Apply documented defaults (token cost of 1) during normalization
package models

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

// MaxKeyLength bounds the size of a rate-limit key.
const MaxKeyLength = 512

// MaxWindowMillis bounds the window of fixed and sliding checks to one year.
const MaxWindowMillis = int64(365 * 24 * time.Hour / time.Millisecond)

// DefaultTokenCost is the number of tokens a token-bucket check consumes when
// the caller does not say otherwise.
const DefaultTokenCost = 1.0

// FieldError reports an invalid request field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// FixedWindowRequest asks for a fixed-window counter decision.
// Window is expressed in milliseconds.
type FixedWindowRequest struct {
	Key    string `json:"key"`
	Limit  int64  `json:"limit"`
	Window int64  `json:"window"`
}

// SlidingWindowRequest asks for a sliding-window log decision.
// Window is expressed in milliseconds.
type SlidingWindowRequest struct {
	Key    string `json:"key"`
	Limit  int64  `json:"limit"`
	Window int64  `json:"window"`
}

// TokenBucketRequest asks for a token-bucket decision. Tokens is the cost of
// this request and defaults to DefaultTokenCost.
type TokenBucketRequest struct {
	Key        string   `json:"key"`
	Capacity   float64  `json:"capacity"`
	RefillRate float64  `json:"refillRate"`
	Tokens     *float64 `json:"tokens,omitempty"`
}

// LeakyBucketRequest asks for a leaky-bucket decision.
type LeakyBucketRequest struct {
	Key      string  `json:"key"`
	Capacity float64 `json:"capacity"`
	LeakRate float64 `json:"leakRate"`
}

// ResetRequest clears all limiter state held for a key.
type ResetRequest struct {
	Key string `json:"key"`
}

func (r *FixedWindowRequest) Validate() error {
	if err := ValidateKey(r.Key); err != nil {
		return err
	}
	if r.Limit <= 0 {
		return &FieldError{Field: "limit", Reason: "must be a positive integer"}
	}
	return validateWindow(r.Window)
}

func (r *FixedWindowRequest) Normalize() {
	r.Key = strings.TrimSpace(r.Key)
}

// WindowDuration converts the millisecond window to a time.Duration.
func (r *FixedWindowRequest) WindowDuration() time.Duration {
	return windowDuration(r.Window)
}

func (r *SlidingWindowRequest) Validate() error {
	if err := ValidateKey(r.Key); err != nil {
		return err
	}
	if r.Limit <= 0 {
		return &FieldError{Field: "limit", Reason: "must be a positive integer"}
	}
	return validateWindow(r.Window)
}

func (r *SlidingWindowRequest) Normalize() {
	r.Key = strings.TrimSpace(r.Key)
}

func (r *SlidingWindowRequest) WindowDuration() time.Duration {
	return windowDuration(r.Window)
}

func (r *TokenBucketRequest) Validate() error {
	if err := ValidateKey(r.Key); err != nil {
		return err
	}
	if !positive(r.Capacity) {
		return &FieldError{Field: "capacity", Reason: "must be a positive number"}
	}
	if !positive(r.RefillRate) {
		return &FieldError{Field: "refillRate", Reason: "must be a positive number"}
	}
	if r.Tokens != nil && !positive(*r.Tokens) {
		return &FieldError{Field: "tokens", Reason: "must be a positive number"}
	}
	return nil
}

func (r *TokenBucketRequest) Normalize() {
	r.Key = strings.TrimSpace(r.Key)
	if r.Tokens == nil {
		cost := DefaultTokenCost
		r.Tokens = &cost
	}
}

// Cost returns the number of tokens this request consumes.
func (r *TokenBucketRequest) Cost() float64 {
	if r.Tokens == nil {
		return DefaultTokenCost
	}
	return *r.Tokens
}

func (r *LeakyBucketRequest) Validate() error {
	if err := ValidateKey(r.Key); err != nil {
		return err
	}
	if !positive(r.Capacity) {
		return &FieldError{Field: "capacity", Reason: "must be a positive number"}
	}
	if !positive(r.LeakRate) {
		return &FieldError{Field: "leakRate", Reason: "must be a positive number"}
	}
	return nil
}

func (r *LeakyBucketRequest) Normalize() {
	r.Key = strings.TrimSpace(r.Key)
}

func (r *ResetRequest) Validate() error {
	return ValidateKey(r.Key)
}

func (r *ResetRequest) Normalize() {
	r.Key = strings.TrimSpace(r.Key)
}

// ValidateKey checks that key is usable as a rate-limit key.
func ValidateKey(key string) error {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return &FieldError{Field: "key", Reason: "is required"}
	}
	if len(trimmed) > MaxKeyLength {
		return &FieldError{Field: "key", Reason: fmt.Sprintf("must be at most %d bytes", MaxKeyLength)}
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return &FieldError{Field: "key", Reason: "must not contain control characters"}
		}
	}
	return nil
}

func validateWindow(window int64) error {
	if window <= 0 {
		return &FieldError{Field: "window", Reason: "must be a positive number of milliseconds"}
	}
	if window > MaxWindowMillis {
		return &FieldError{Field: "window", Reason: fmt.Sprintf("must be at most %d milliseconds", MaxWindowMillis)}
	}
	return nil
}

// windowDuration converts a millisecond window, clamped to MaxWindowMillis so
// the conversion cannot overflow.
func windowDuration(window int64) time.Duration {
	if window > MaxWindowMillis {
		window = MaxWindowMillis
	}
	return time.Duration(window) * time.Millisecond
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
