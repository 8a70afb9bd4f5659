package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"educore_devlab/internal/entities"

	"github.com/redis/go-redis/v9"
)

const stagingKeyPrefix = "staging:batch:"

// RedisStagingRepository keeps one JSON document per staged batch.
type RedisStagingRepository struct {
	client *redis.Client
	ttl    time.Duration // 0 means no expiry
}

func NewRedisStagingRepository(client *redis.Client, ttl time.Duration) *RedisStagingRepository {
	return &RedisStagingRepository{client: client, ttl: ttl}
}

func stagingKey(requestID string) string {
	return stagingKeyPrefix + requestID
}

func (r *RedisStagingRepository) Save(ctx context.Context, requestID, requesterService, action string, questions []map[string]any, metadata map[string]any) error {
	batch := entities.NewStagedBatch(requestID, requesterService, action, questions, metadata)
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode staged batch: %w", err)
	}
	if err := r.client.Set(ctx, stagingKey(requestID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save staged batch: %w", err)
	}
	return nil
}

// Confirm uses GETDEL so the read and the removal are one atomic step.
func (r *RedisStagingRepository) Confirm(ctx context.Context, requestID string) (bool, error) {
	data, err := r.client.GetDel(ctx, stagingKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("confirm staged batch: %w", err)
	}
	var batch entities.StagedBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return false, fmt.Errorf("decode staged batch: %w", err)
	}
	return batch.Status == entities.StatusPending, nil
}

func (r *RedisStagingRepository) Get(ctx context.Context, requestID string) (*entities.StagedBatch, error) {
	data, err := r.client.Get(ctx, stagingKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var batch entities.StagedBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decode staged batch: %w", err)
	}
	return &batch, nil
}

func (r *RedisStagingRepository) Stats(ctx context.Context) (map[string]int, error) {
	stats := map[string]int{}
	err := r.scan(ctx, func(key string, batch *entities.StagedBatch) error {
		if batch.Status == entities.StatusPending {
			stats[batch.RequesterService]++
		}
		return nil
	})
	return stats, err
}

func (r *RedisStagingRepository) PurgeStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	var removed int64
	err := r.scan(ctx, func(key string, batch *entities.StagedBatch) error {
		if batch.Status != entities.StatusPending || !batch.UpdatedAt.Before(cutoff) {
			return nil
		}
		n, err := r.client.Del(ctx, key).Result()
		removed += n
		return err
	})
	return removed, err
}

func (r *RedisStagingRepository) scan(ctx context.Context, fn func(key string, batch *entities.StagedBatch) error) error {
	iter := r.client.Scan(ctx, 0, stagingKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // confirmed between SCAN and GET
		}
		if err != nil {
			return err
		}
		var batch entities.StagedBatch
		if err := json.Unmarshal(data, &batch); err != nil {
			continue
		}
		if err := fn(key, &batch); err != nil {
			return err
		}
	}
	return iter.Err()
}
