package interfaces

import (
	"context"
	"time"

	"educore_devlab/internal/entities"
)

// AIClient is the black-box model behind question generation and grading.
type AIClient interface {
	GenerateResponse(ctx context.Context, prompt string) (string, error)
}

// StagingStore owns staged batches between generation and confirmation.
type StagingStore interface {
	// Save upserts a pending batch; a retry with the same id overwrites it.
	Save(ctx context.Context, requestID, requesterService, action string, questions []map[string]any, metadata map[string]any) error
	// Confirm marks the batch confirmed and deletes it. It returns false when
	// nothing matched.
	Confirm(ctx context.Context, requestID string) (bool, error)
	// Get returns nil, nil when the batch does not exist.
	Get(ctx context.Context, requestID string) (*entities.StagedBatch, error)
	// Stats counts pending batches per requester service.
	Stats(ctx context.Context) (map[string]int, error)
	// PurgeStale drops pending batches not updated within olderThan.
	PurgeStale(ctx context.Context, olderThan time.Duration) (int64, error)
}
