// Package summarize aggregates raw per-session n-gram rows into one
// summary row per (session, n-gram).
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"unicode/utf8"

	"github.com/verte-zerg/typedrill/internal/model"
	"github.com/verte-zerg/typedrill/internal/store"
)

// errIncomplete marks a session whose raw rows are absent; such a
// session is skipped by the batch, never summarized halfway.
var errIncomplete = errors.New("session raw data incomplete")

// Summarizer builds session n-gram summaries.
type Summarizer struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a summarizer.
func New(st *store.Store, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{store: st, logger: logger}
}

// Run summarizes every session not yet present in the summary table
// and returns how many were processed. A session with missing raw rows
// is logged, skipped and counted separately; it never aborts the batch.
// Re-running with no new sessions is a no-op.
func (s *Summarizer) Run(ctx context.Context) (int, error) {
	ids, err := s.store.ListUnsummarizedSessionIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unsummarized sessions: %w: %w", model.ErrDependencyFailure, err)
	}
	processed := 0
	skipped := 0
	for _, id := range ids {
		if err := s.Session(ctx, id); err != nil {
			skipped++
			s.logger.Warn("skipping session", "session_id", id, "error", err)
			continue
		}
		processed++
	}
	if skipped > 0 {
		s.logger.Info("summarize batch finished", "processed", processed, "skipped", skipped)
	}
	return processed, nil
}

// Session summarizes one session. Already-summarized sessions are a
// no-op, detected by an existence check rather than recomputation.
func (s *Summarizer) Session(ctx context.Context, sessionID int64) error {
	has, err := s.store.HasSessionSummary(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("summary existence check: %w: %w", model.ErrDependencyFailure, err)
	}
	if has {
		return nil
	}

	rows, err := s.buildRows(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.store.InsertSessionSummaries(ctx, rows); err != nil {
		return fmt.Errorf("insert summaries: %w: %w", model.ErrDependencyFailure, err)
	}
	return nil
}

type aggregate struct {
	size        int
	instances   int
	durationSum float64
	errorCount  int
}

func (s *Summarizer) buildRows(ctx context.Context, sessionID int64) ([]model.SessionNgramSummary, error) {
	keys, err := s.store.ListSessionKeystrokes(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list keystrokes: %w: %w", model.ErrDependencyFailure, err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("session %d: %w", sessionID, errIncomplete)
	}
	speeds, err := s.store.ListSessionSpeedNgrams(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list speed ngrams: %w: %w", model.ErrDependencyFailure, err)
	}
	errNgrams, err := s.store.ListSessionErrorNgrams(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list error ngrams: %w: %w", model.ErrDependencyFailure, err)
	}

	aggs := map[string]*aggregate{}
	get := func(text string, size int) *aggregate {
		agg, ok := aggs[text]
		if !ok {
			agg = &aggregate{size: size}
			aggs[text] = agg
		}
		return agg
	}

	hasSize1 := false
	for _, sp := range speeds {
		if sp.Size == 1 {
			hasSize1 = true
		}
		agg := get(sp.Text, sp.Size)
		agg.instances++
		agg.durationSum += perKeystrokeMs(sp)
	}

	// Every typed character contributes at least a 1-gram record.
	// Derived from the keystroke log unless the extractor already
	// produced size-1 speed rows for this session.
	if !hasSize1 {
		for _, k := range keys {
			if k.IsBackspace() || k.Expected == "" {
				continue
			}
			agg := get(k.Expected, 1)
			agg.instances++
			if k.TimeSincePrevMs > 0 {
				agg.durationSum += float64(k.TimeSincePrevMs)
			}
			if k.IsError {
				agg.errorCount++
			}
		}
	}

	for _, eg := range errNgrams {
		agg := get(eg.Text, eg.Size)
		agg.errorCount += eg.Count
	}

	texts := make([]string, 0, len(aggs))
	for text := range aggs {
		texts = append(texts, text)
	}
	sort.Strings(texts)

	rows := make([]model.SessionNgramSummary, 0, len(texts))
	for _, text := range texts {
		agg := aggs[text]
		avg := 0.0
		if agg.instances > 0 {
			avg = agg.durationSum / float64(agg.instances)
		}
		rows = append(rows, model.SessionNgramSummary{
			SessionID:     sessionID,
			Ngram:         text,
			Size:          agg.size,
			InstanceCount: agg.instances,
			AvgSpeedMs:    avg,
			ErrorCount:    agg.errorCount,
		})
	}
	return rows, nil
}

// perKeystrokeMs normalizes a window duration to per-keystroke
// milliseconds so summaries compare directly against the keyboard's
// per-keystroke target.
func perKeystrokeMs(sp model.SpeedNGram) float64 {
	size := sp.Size
	if size == 0 {
		size = utf8.RuneCountInString(sp.Text)
	}
	if size <= 1 {
		return float64(sp.DurationMs)
	}
	return float64(sp.DurationMs) / float64(size-1)
}
