package coordinator

import "fmt"

// PersistenceError reports a durable store failure inside a key's region.
// The key's in-memory state is left at its value before the operation, so
// retrying recomputes the decision from consistent state.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Retryable is always true: nothing was recorded, so the caller may retry.
func (e *PersistenceError) Retryable() bool {
	return true
}
