package models

import "time"

// StateRecord is the durable form of one key's limiter state. Value is opaque
// to the storage layer. ExpiresAt is the instant after which the state is
// indistinguishable from a fresh key and may be discarded.
type StateRecord struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	Owner     string    `json:"owner,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the record's state has fully drained at now.
func (r *StateRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Clone returns a deep copy of the record.
func (r *StateRecord) Clone() *StateRecord {
	c := *r
	c.Value = append([]byte(nil), r.Value...)
	return &c
}
