package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"educore_devlab/internal/entities"
)

// SQLStagingRepository stores staged batches through database/sql. It is
// used with the embedded SQLite driver; timestamps are unix milliseconds.
type SQLStagingRepository struct {
	db *sql.DB
}

func NewSQLStagingRepository(db *sql.DB) *SQLStagingRepository {
	return &SQLStagingRepository{db: db}
}

func (r *SQLStagingRepository) Save(ctx context.Context, requestID, requesterService, action string, questions []map[string]any, metadata map[string]any) error {
	batch := entities.NewStagedBatch(requestID, requesterService, action, questions, metadata)
	cols, err := encodeBatchColumns(batch)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO staged_batches (request_id, requester_service, action, questions, hints, test_cases, metadata, status, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?)
		ON CONFLICT (request_id) DO UPDATE SET
			requester_service=excluded.requester_service,
			action=excluded.action,
			questions=excluded.questions,
			hints=excluded.hints,
			test_cases=excluded.test_cases,
			metadata=excluded.metadata,
			status='pending',
			updated_at_ms=excluded.updated_at_ms
	`, batch.RequestID, batch.RequesterService, batch.Action,
		string(cols.questions), string(cols.hints), string(cols.testCases), string(cols.metadata),
		batch.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save staged batch: %w", err)
	}
	return nil
}

func (r *SQLStagingRepository) Confirm(ctx context.Context, requestID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE staged_batches SET status='confirmed', updated_at_ms=?
		WHERE request_id=? AND status='pending'
	`, time.Now().UTC().UnixMilli(), requestID)
	if err != nil {
		return false, fmt.Errorf("confirm staged batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM staged_batches WHERE request_id=? AND status='confirmed'`, requestID); err != nil {
		return false, fmt.Errorf("delete confirmed batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *SQLStagingRepository) Get(ctx context.Context, requestID string) (*entities.StagedBatch, error) {
	var (
		b                                     entities.StagedBatch
		questions, hints, testCases, metadata string
		status                                string
		updatedMs                             int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT request_id, requester_service, action, questions, hints, test_cases, metadata, status, updated_at_ms
		FROM staged_batches WHERE request_id=?
	`, requestID).Scan(&b.RequestID, &b.RequesterService, &b.Action, &questions, &hints, &testCases, &metadata, &status, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Status = entities.StagingStatus(status)
	b.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	if err := decodeBatchColumns(&b, []byte(questions), []byte(hints), []byte(testCases), []byte(metadata)); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *SQLStagingRepository) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
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

func (r *SQLStagingRepository) PurgeStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).UnixMilli()
	res, err := r.db.ExecContext(ctx, `DELETE FROM staged_batches WHERE status='pending' AND updated_at_ms < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
