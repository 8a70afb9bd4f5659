package usecases

import (
	"context"
	"fmt"
	"time"

	"educore_devlab/internal/interfaces"
)

// ContentMetrics summarizes staged content still awaiting confirmation.
type ContentMetrics struct {
	PendingBatches map[string]int `json:"pending_batches"`
	TotalPending   int            `json:"total_pending"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

type MetricsService struct {
	store interfaces.StagingStore
}

func NewMetricsService(store interfaces.StagingStore) *MetricsService {
	return &MetricsService{store: store}
}

func (s *MetricsService) ContentMetrics(ctx context.Context) (*ContentMetrics, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("staging stats: %w", err)
	}
	total := 0
	for _, n := range stats {
		total += n
	}
	return &ContentMetrics{
		PendingBatches: stats,
		TotalPending:   total,
		GeneratedAt:    time.Now().UTC(),
	}, nil
}
