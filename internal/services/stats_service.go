package services

import (
	"context"
	"fmt"
	"time"

	"ledgerd/internal/core"
	"ledgerd/internal/schedule"
	"ledgerd/internal/storage"
)

// StatsService computes one owner's monthly income/expense aggregation.
// Read-only and deterministic.
type StatsService struct {
	storage *storage.SQLiteRepository
}

func NewStatsService(repo *storage.SQLiteRepository) *StatsService {
	return &StatsService{storage: repo}
}

// MonthlyStats reduces the owner's postings within the calendar month
// into totals, a per-category expense breakdown and a count.
func (s *StatsService) MonthlyStats(ctx context.Context, userID string, year int, month time.Month) (core.MonthlyStats, error) {
	start, end := schedule.MonthWindow(year, month)

	postings, err := s.storage.PostingsInRange(ctx, userID, start, end)
	if err != nil {
		return core.MonthlyStats{}, fmt.Errorf("fetch postings for %d-%02d: %w", year, month, err)
	}

	return core.Reduce(year, month, postings), nil
}
