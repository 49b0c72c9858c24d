package coordinator

import (
	"encoding/json"
	"fmt"
	"time"

	"ratekeeper/internal/models"
	"ratekeeper/internal/ratelimit"
)

// recordVersion is bumped when the encoded state layout changes.
const recordVersion = 1

type encodedState struct {
	Version int             `json:"v"`
	State   ratelimit.State `json:"state"`
}

func encodeRecord(key string, state ratelimit.State, owner string, retention time.Duration, now time.Time) (*models.StateRecord, error) {
	value, err := json.Marshal(encodedState{Version: recordVersion, State: state})
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return &models.StateRecord{
		Key:       key,
		Value:     value,
		Owner:     owner,
		ExpiresAt: state.ExpiresAt(retention),
		UpdatedAt: now,
	}, nil
}

func decodeRecord(record *models.StateRecord) (ratelimit.State, error) {
	var encoded encodedState
	if err := json.Unmarshal(record.Value, &encoded); err != nil {
		return ratelimit.State{}, fmt.Errorf("decode state: %w", err)
	}
	if encoded.Version != recordVersion {
		return ratelimit.State{}, fmt.Errorf("decode state: unsupported record version %d", encoded.Version)
	}
	return encoded.State, nil
}
