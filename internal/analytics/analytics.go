// Package analytics serves read-side queries over the speed summary
// tables. All filtering happens inside the SQL predicates so UI and
// exports share one filter semantics and result sizes stay bounded.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/verte-zerg/typedrill/internal/model"
	"github.com/verte-zerg/typedrill/internal/store"
)

// Service answers analytics queries. It never writes.
type Service struct {
	store *store.Store
	now   func() time.Time
}

// New creates an analytics service.
func New(st *store.Store) *Service {
	return &Service{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// Heatmap returns current-summary rows for one (user, keyboard), worst
// performer first, each tagged with its heatmap bucket. Empty scope
// yields an empty list, not an error.
func (s *Service) Heatmap(ctx context.Context, userID, keyboardID int64, f model.SummaryFilter) ([]model.HeatmapEntry, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.store.QueryHeatmapSummaries(ctx, userID, keyboardID, f)
	if err != nil {
		return nil, fmt.Errorf("heatmap query: %w: %w", model.ErrDependencyFailure, err)
	}
	entries := make([]model.HeatmapEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, model.HeatmapEntry{
			NgramSpeedSummary: row,
			Tint:              model.TintFor(row.TargetPct),
		})
	}
	return entries, nil
}

// History returns historical measurements for one (user, keyboard),
// oldest first; ngram narrows to one n-gram when non-empty.
func (s *Service) History(ctx context.Context, userID, keyboardID int64, ngram string) ([]model.NgramSpeedSummaryHistory, error) {
	rows, err := s.store.QueryHistory(ctx, userID, keyboardID, ngram)
	if err != nil {
		return nil, fmt.Errorf("history query: %w: %w", model.ErrDependencyFailure, err)
	}
	return rows, nil
}

// SlowestN returns the n slowest n-grams by decaying average after
// filters.
func (s *Service) SlowestN(ctx context.Context, userID, keyboardID int64, n int, f model.SummaryFilter) ([]model.NgramSpeedSummary, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: result bound %d must be positive", model.ErrInvalidArgument, n)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.store.QuerySlowestSummaries(ctx, userID, keyboardID, n, f)
	if err != nil {
		return nil, fmt.Errorf("slowest query: %w: %w", model.ErrDependencyFailure, err)
	}
	return rows, nil
}

// ErrorN returns the n most error-prone n-grams over the lookback
// window, by raw error counts.
func (s *Service) ErrorN(ctx context.Context, userID, keyboardID int64, n, lookbackDays, size int) ([]model.NgramErrorCount, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: result bound %d must be positive", model.ErrInvalidArgument, n)
	}
	if lookbackDays < 0 {
		return nil, fmt.Errorf("%w: negative lookback %d", model.ErrInvalidArgument, lookbackDays)
	}
	if size != 0 && (size < model.MinNgramSize || size > model.MaxNgramSize) {
		return nil, fmt.Errorf("%w: size filter %d outside %d-%d", model.ErrInvalidArgument, size, model.MinNgramSize, model.MaxNgramSize)
	}
	since := time.Time{}
	if lookbackDays > 0 {
		since = s.now().AddDate(0, 0, -lookbackDays)
	}
	rows, err := s.store.QueryErrorCounts(ctx, userID, keyboardID, since, size, n)
	if err != nil {
		return nil, fmt.Errorf("error query: %w: %w", model.ErrDependencyFailure, err)
	}
	return rows, nil
}

// CompareLastTwo reports, per n-gram, the improvement or degradation
// between its two most recent measurements. Negative deltas mean the
// n-gram got faster.
func (s *Service) CompareLastTwo(ctx context.Context, userID, keyboardID int64) ([]model.NgramComparison, error) {
	rows, err := s.store.QueryLastTwoComparisons(ctx, userID, keyboardID)
	if err != nil {
		return nil, fmt.Errorf("comparison query: %w: %w", model.ErrDependencyFailure, err)
	}
	return rows, nil
}
