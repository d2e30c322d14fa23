// Package refresh maintains the decaying-average speed summaries using
// a current-table upsert plus append-only history dual-insert.
package refresh

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/verte-zerg/typedrill/internal/model"
	"github.com/verte-zerg/typedrill/internal/stats"
	"github.com/verte-zerg/typedrill/internal/store"
)

// Options tunes the refresher. Zero values select engine defaults.
type Options struct {
	DecayFactor float64
	MaxSamples  int
	// SuppressDuplicateHistory skips a history append when the
	// computed measurement is checksum-identical to the most recent
	// history row for the same key, bounding table growth for
	// inactive n-grams.
	SuppressDuplicateHistory bool
	// Now is injectable for tests; defaults to time.Now in UTC.
	Now func() time.Time
}

// Counts reports how many current-summary rows a refresh touched.
type Counts struct {
	Updated  int
	Inserted int
}

// CatchUpResult aggregates a full catch-up run.
type CatchUpResult struct {
	Sessions int
	Failed   int
	Counts
}

// Refresher recomputes per-(user, keyboard, n-gram) speed summaries.
type Refresher struct {
	store    *store.Store
	logger   *slog.Logger
	factor   float64
	samples  int
	suppress bool
	now      func() time.Time
}

// New creates a refresher.
func New(st *store.Store, logger *slog.Logger, opts Options) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	factor := opts.DecayFactor
	if factor <= 0 || factor > 1 {
		factor = stats.DefaultDecayFactor
	}
	samples := opts.MaxSamples
	if samples <= 0 {
		samples = stats.DefaultMaxSamples
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Refresher{
		store:    st,
		logger:   logger,
		factor:   factor,
		samples:  samples,
		suppress: opts.SuppressDuplicateHistory,
		now:      now,
	}
}

// RefreshSession recomputes the summary of every n-gram touched by one
// session, scoped to the most recent observations for that session's
// (user, keyboard) pair. The caller asked for this specific session,
// so failures propagate instead of being skipped.
func (r *Refresher) RefreshSession(ctx context.Context, sessionID int64) (Counts, error) {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return Counts{}, err
	}
	kb, err := r.store.GetKeyboard(ctx, sess.KeyboardID)
	if err != nil {
		return Counts{}, err
	}
	summaries, err := r.store.ListSessionSummaries(ctx, sessionID)
	if err != nil {
		return Counts{}, fmt.Errorf("list session summaries: %w: %w", model.ErrDependencyFailure, err)
	}

	var counts Counts
	for _, row := range summaries {
		touched, err := r.refreshNgram(ctx, sess, kb.TargetMs(), row)
		if err != nil {
			return counts, err
		}
		if touched.existed {
			counts.Updated++
		} else if touched.written {
			counts.Inserted++
		}
	}
	return counts, nil
}

// CatchUp refreshes every session in ascending start-time order so the
// decaying-average trend is rebuilt incrementally and reproducibly.
// Individual session failures are logged and skipped.
func (r *Refresher) CatchUp(ctx context.Context) (CatchUpResult, error) {
	sessions, err := r.store.ListSessionsChronological(ctx)
	if err != nil {
		return CatchUpResult{}, fmt.Errorf("list sessions: %w: %w", model.ErrDependencyFailure, err)
	}
	var result CatchUpResult
	for _, sess := range sessions {
		counts, err := r.RefreshSession(ctx, sess.ID)
		if err != nil {
			result.Failed++
			r.logger.Warn("catch-up session failed", "session_id", sess.ID, "error", err)
			continue
		}
		result.Sessions++
		result.Updated += counts.Updated
		result.Inserted += counts.Inserted
	}
	return result, nil
}

type touchResult struct {
	written bool
	existed bool
}

func (r *Refresher) refreshNgram(ctx context.Context, sess model.Session, targetMs int64, summary model.SessionNgramSummary) (touchResult, error) {
	obsRows, err := r.store.ListNgramObservations(ctx, sess.UserID, sess.KeyboardID, summary.Ngram, sess.StartedAt, r.samples)
	if err != nil {
		return touchResult{}, fmt.Errorf("list observations: %w: %w", model.ErrDependencyFailure, err)
	}
	if len(obsRows) == 0 {
		// No data: do not emit a summary row.
		return touchResult{}, nil
	}

	// Recency here is measured in elapsed wall-clock days since the
	// most recent contributing session, not ordinal rank.
	mostRecent := obsRows[0].StartedAt
	obs := make([]stats.Observation, 0, len(obsRows))
	sampleCount := 0
	for _, row := range obsRows {
		obs = append(obs, stats.Observation{
			AvgMs:     row.AvgSpeedMs,
			Instances: row.InstanceCount,
			DaysAgo:   mostRecent.Sub(row.StartedAt).Hours() / 24,
		})
		sampleCount += row.InstanceCount
	}
	avg, ok := stats.DayWeightedAverage(obs, r.factor)
	if !ok {
		return touchResult{}, nil
	}

	computedAt := r.now()
	current := model.NgramSpeedSummary{
		UserID:        sess.UserID,
		KeyboardID:    sess.KeyboardID,
		Ngram:         summary.Ngram,
		Size:          summary.Size,
		DecayingAvgMs: avg,
		TargetMs:      targetMs,
		TargetPct:     stats.TargetPerformancePct(targetMs, avg),
		MeetsTarget:   stats.MeetsTarget(targetMs, avg),
		SampleCount:   sampleCount,
		UpdatedAt:     computedAt,
	}
	existed, err := r.store.UpsertCurrentSummary(ctx, current)
	if err != nil {
		return touchResult{}, fmt.Errorf("upsert summary: %w: %w", model.ErrDependencyFailure, err)
	}

	sum := checksum(current)
	if r.suppress {
		last, ok, err := r.store.LatestHistoryChecksum(ctx, sess.UserID, sess.KeyboardID, summary.Ngram)
		if err != nil {
			return touchResult{}, fmt.Errorf("history checksum: %w: %w", model.ErrDependencyFailure, err)
		}
		if ok && last == sum {
			return touchResult{written: true, existed: existed}, nil
		}
	}
	hist := model.NgramSpeedSummaryHistory{
		UserID:        current.UserID,
		KeyboardID:    current.KeyboardID,
		Ngram:         current.Ngram,
		Size:          current.Size,
		DecayingAvgMs: current.DecayingAvgMs,
		TargetMs:      current.TargetMs,
		TargetPct:     current.TargetPct,
		MeetsTarget:   current.MeetsTarget,
		SampleCount:   current.SampleCount,
		RecordedAt:    computedAt,
	}
	if err := r.store.AppendHistory(ctx, hist, sum); err != nil {
		return touchResult{}, fmt.Errorf("append history: %w: %w", model.ErrDependencyFailure, err)
	}
	return touchResult{written: true, existed: existed}, nil
}

// checksum hashes the business fields of a measurement so back-to-back
// identical refreshes can be detected without field-by-field compares.
func checksum(row model.NgramSpeedSummary) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%d|%s|%d|%.6f|%d|%.6f|%t|%d",
		row.UserID, row.KeyboardID, row.Ngram, row.Size,
		row.DecayingAvgMs, row.TargetMs, row.TargetPct, row.MeetsTarget, row.SampleCount)
	return fmt.Sprintf("%016x", h.Sum64())
}
