package storage

import "errors"

// ErrNotFound is returned by Get when no record exists for a key.
var ErrNotFound = errors.New("record not found")

// ErrUnavailable wraps failures to reach the backend.
var ErrUnavailable = errors.New("storage unavailable")
