package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"educore_devlab/internal/entities"
)

// MemoryStagingRepository keeps staged batches in process memory. Used for
// local development and tests; contents are lost on restart.
type MemoryStagingRepository struct {
	batches map[string]*entities.StagedBatch
	mu      sync.RWMutex
}

func NewMemoryStagingRepository() *MemoryStagingRepository {
	return &MemoryStagingRepository{
		batches: make(map[string]*entities.StagedBatch),
	}
}

func (r *MemoryStagingRepository) Save(ctx context.Context, requestID, requesterService, action string, questions []map[string]any, metadata map[string]any) error {
	batch, err := cloneBatch(entities.NewStagedBatch(requestID, requesterService, action, questions, metadata))
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[requestID] = batch
	return nil
}

func (r *MemoryStagingRepository) Confirm(ctx context.Context, requestID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch, exists := r.batches[requestID]
	if !exists || batch.Status != entities.StatusPending {
		return false, nil
	}
	batch.Status = entities.StatusConfirmed
	delete(r.batches, requestID)
	return true, nil
}

func (r *MemoryStagingRepository) Get(ctx context.Context, requestID string) (*entities.StagedBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	batch, exists := r.batches[requestID]
	if !exists {
		return nil, nil
	}
	return cloneBatch(batch)
}

// cloneBatch deep-copies a batch so neither the caller nor the store can
// mutate the other's questions or metadata.
func cloneBatch(b *entities.StagedBatch) (*entities.StagedBatch, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode staged batch: %w", err)
	}
	var copied entities.StagedBatch
	if err := json.Unmarshal(raw, &copied); err != nil {
		return nil, fmt.Errorf("decode staged batch: %w", err)
	}
	return &copied, nil
}

func (r *MemoryStagingRepository) Stats(ctx context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := map[string]int{}
	for _, b := range r.batches {
		if b.Status == entities.StatusPending {
			stats[b.RequesterService]++
		}
	}
	return stats, nil
}

func (r *MemoryStagingRepository) PurgeStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var removed int64
	for id, b := range r.batches {
		if b.Status == entities.StatusPending && b.UpdatedAt.Before(cutoff) {
			delete(r.batches, id)
			removed++
		}
	}
	return removed, nil
}
