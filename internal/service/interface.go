package service

import (
	"context"

	"ratekeeper/internal/models"
)

// ServiceInterface defines the limiter operations exposed to transports
type ServiceInterface interface {
	// CheckFixedWindow counts a request against a fixed window
	CheckFixedWindow(ctx context.Context, req *models.FixedWindowRequest) (*models.FixedWindowResponse, error)

	// CheckSlidingWindow counts a request against a sliding-window log
	CheckSlidingWindow(ctx context.Context, req *models.SlidingWindowRequest) (*models.SlidingWindowResponse, error)

	// CheckTokenBucket spends tokens from a continuously refilling bucket
	CheckTokenBucket(ctx context.Context, req *models.TokenBucketRequest) (*models.TokenBucketResponse, error)

	// CheckLeakyBucket adds a unit to a continuously draining bucket
	CheckLeakyBucket(ctx context.Context, req *models.LeakyBucketRequest) (*models.LeakyBucketResponse, error)

	// Usage reports the live fixed-window usage of a key
	Usage(ctx context.Context, key string) (*models.UsageResponse, error)

	// Reset clears every algorithm's state for a key
	Reset(ctx context.Context, req *models.ResetRequest) (*models.ResetResponse, error)

	// ListAll snapshots the live fixed windows held by this instance
	ListAll(ctx context.Context) (*models.ListResponse, error)
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)
