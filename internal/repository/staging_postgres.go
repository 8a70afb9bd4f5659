package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"educore_devlab/internal/entities"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StagingRepository stores staged batches in Postgres.
type StagingRepository struct {
	db *pgxpool.Pool
}

func NewStagingRepository(db *pgxpool.Pool) *StagingRepository {
	return &StagingRepository{db: db}
}

// Save upserts the batch as pending.
func (r *StagingRepository) Save(ctx context.Context, requestID, requesterService, action string, questions []map[string]any, metadata map[string]any) error {
	batch := entities.NewStagedBatch(requestID, requesterService, action, questions, metadata)
	cols, err := encodeBatchColumns(batch)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO staged_batches (request_id, requester_service, action, questions, hints, test_cases, metadata, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', NOW())
		ON CONFLICT (request_id) DO UPDATE SET
			requester_service=EXCLUDED.requester_service,
			action=EXCLUDED.action,
			questions=EXCLUDED.questions,
			hints=EXCLUDED.hints,
			test_cases=EXCLUDED.test_cases,
			metadata=EXCLUDED.metadata,
			status='pending',
			updated_at=NOW()
	`, batch.RequestID, batch.RequesterService, batch.Action, cols.questions, cols.hints, cols.testCases, cols.metadata)
	if err != nil {
		return fmt.Errorf("save staged batch: %w", err)
	}
	return nil
}

// Confirm flips the batch to confirmed and deletes it in one transaction.
func (r *StagingRepository) Confirm(ctx context.Context, requestID string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE staged_batches SET status='confirmed', updated_at=NOW()
		WHERE request_id=$1 AND status='pending'
	`, requestID)
	if err != nil {
		return false, fmt.Errorf("confirm staged batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `DELETE FROM staged_batches WHERE request_id=$1 AND status='confirmed'`, requestID); err != nil {
		return false, fmt.Errorf("delete confirmed batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *StagingRepository) Get(ctx context.Context, requestID string) (*entities.StagedBatch, error) {
	var (
		b                                     entities.StagedBatch
		questions, hints, testCases, metadata []byte
		status                                string
	)
	err := r.db.QueryRow(ctx, `
		SELECT request_id, requester_service, action, questions, hints, test_cases, metadata, status, updated_at
		FROM staged_batches WHERE request_id=$1
	`, requestID).Scan(&b.RequestID, &b.RequesterService, &b.Action, &questions, &hints, &testCases, &metadata, &status, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Status = entities.StagingStatus(status)
	if err := decodeBatchColumns(&b, questions, hints, testCases, metadata); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *StagingRepository) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT requester_service, COUNT(*) FROM staged_batches
		WHERE status='pending' GROUP BY requester_service
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var service string
		var count int
		if err := rows.Scan(&service, &count); err != nil {
			return nil, err
		}
		stats[service] = count
	}
	return stats, rows.Err()
}

func (r *StagingRepository) PurgeStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := r.db.Exec(ctx, `DELETE FROM staged_batches WHERE status='pending' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type batchColumns struct {
	questions, hints, testCases, metadata []byte
}

func encodeBatchColumns(b *entities.StagedBatch) (batchColumns, error) {
	var cols batchColumns
	var err error
	if cols.questions, err = json.Marshal(b.Questions); err != nil {
		return cols, fmt.Errorf("encode questions: %w", err)
	}
	if cols.hints, err = json.Marshal(b.Hints); err != nil {
		return cols, fmt.Errorf("encode hints: %w", err)
	}
	if cols.testCases, err = json.Marshal(b.TestCases); err != nil {
		return cols, fmt.Errorf("encode test cases: %w", err)
	}
	if cols.metadata, err = json.Marshal(b.Metadata); err != nil {
		return cols, fmt.Errorf("encode metadata: %w", err)
	}
	return cols, nil
}

func decodeBatchColumns(b *entities.StagedBatch, questions, hints, testCases, metadata []byte) error {
	if err := json.Unmarshal(questions, &b.Questions); err != nil {
		return fmt.Errorf("decode questions: %w", err)
	}
	if err := json.Unmarshal(hints, &b.Hints); err != nil {
		return fmt.Errorf("decode hints: %w", err)
	}
	if err := json.Unmarshal(testCases, &b.TestCases); err != nil {
		return fmt.Errorf("decode test cases: %w", err)
	}
	if err := json.Unmarshal(metadata, &b.Metadata); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	return nil
}
