package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/verte-zerg/typedrill/internal/model"
)

// summaryFilterClauses translates a filter into SQL predicates so the
// same semantics apply to every read path and result sizes stay
// bounded in the store.
func summaryFilterClauses(f model.SummaryFilter) ([]string, []any) {
	var clauses []string
	var args []any
	if f.Size != 0 {
		clauses = append(clauses, "size = ?")
		args = append(args, f.Size)
	}
	if f.IncludedChars != "" {
		clauses = append(clauses, "ngram NOT GLOB ?")
		args = append(args, globOutsideClass(f.IncludedChars))
	}
	if f.MinSampleCount > 0 {
		clauses = append(clauses, "sample_count >= ?")
		args = append(args, f.MinSampleCount)
	}
	if f.MissedTargetOnly {
		clauses = append(clauses, "meets_target = 0")
	}
	return clauses, args
}

// globOutsideClass builds a GLOB pattern matching any n-gram containing
// a character outside the whitelist; the NOT GLOB predicate then keeps
// only whitelisted n-grams. ']' must lead the class and '-' trail it to
// stay literal inside GLOB brackets.
func globOutsideClass(whitelist string) string {
	var closing, dash bool
	var b strings.Builder
	seen := map[rune]struct{}{}
	for _, r := range whitelist {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		switch r {
		case ']':
			closing = true
		case '-':
			dash = true
		default:
			b.WriteRune(r)
		}
	}
	class := b.String()
	if closing {
		class = "]" + class
	}
	if dash {
		class += "-"
	}
	return "*[^" + class + "]*"
}

func currentSummaryQuery(extra []string) string {
	clauses := append([]string{"user_id = ?", "keyboard_id = ?"}, extra...)
	return fmt.Sprintf(`SELECT user_id, keyboard_id, ngram, size, decaying_avg_ms, target_ms, target_pct, meets_target, sample_count, updated_at
		FROM ngram_speed_summary
		WHERE %s`, strings.Join(clauses, " AND "))
}

func (s *Store) queryCurrentSummaries(ctx context.Context, query string, args ...any) ([]model.NgramSpeedSummary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.NgramSpeedSummary
	for rows.Next() {
		var row model.NgramSpeedSummary
		var updatedAt string
		if err := rows.Scan(&row.UserID, &row.KeyboardID, &row.Ngram, &row.Size, &row.DecayingAvgMs,
			&row.TargetMs, &row.TargetPct, &row.MeetsTarget, &row.SampleCount, &updatedAt); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, err
		}
		row.UpdatedAt = parsed
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// QueryHeatmapSummaries returns filtered current-summary rows ordered
// worst-performing first.
func (s *Store) QueryHeatmapSummaries(ctx context.Context, userID, keyboardID int64, f model.SummaryFilter) ([]model.NgramSpeedSummary, error) {
	clauses, filterArgs := summaryFilterClauses(f)
	query := currentSummaryQuery(clauses) + " ORDER BY target_pct ASC, ngram ASC"
	args := append([]any{userID, keyboardID}, filterArgs...)
	return s.queryCurrentSummaries(ctx, query, args...)
}

// QuerySlowestSummaries returns the n filtered current-summary rows
// with the highest decaying average.
func (s *Store) QuerySlowestSummaries(ctx context.Context, userID, keyboardID int64, n int, f model.SummaryFilter) ([]model.NgramSpeedSummary, error) {
	clauses, filterArgs := summaryFilterClauses(f)
	query := currentSummaryQuery(clauses) + " ORDER BY decaying_avg_ms DESC, ngram ASC LIMIT ?"
	args := append([]any{userID, keyboardID}, filterArgs...)
	args = append(args, n)
	return s.queryCurrentSummaries(ctx, query, args...)
}

// QueryErrorCounts aggregates raw error n-gram counts over sessions
// started at or after since, most error-prone first, bounded by n.
func (s *Store) QueryErrorCounts(ctx context.Context, userID, keyboardID int64, since time.Time, size, n int) ([]model.NgramErrorCount, error) {
	clauses := []string{"sess.user_id = ?", "sess.keyboard_id = ?", "sess.started_at >= ?"}
	args := []any{userID, keyboardID, formatTime(since)}
	if size != 0 {
		clauses = append(clauses, "sne.size = ?")
		args = append(args, size)
	}
	query := fmt.Sprintf(`SELECT sne.ngram, sne.size, SUM(sne.error_count) AS errors
		FROM session_ngram_errors sne
		JOIN sessions sess ON sess.id = sne.session_id
		WHERE %s
		GROUP BY sne.ngram, sne.size
		ORDER BY errors DESC, sne.ngram ASC
		LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, n)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.NgramErrorCount
	for rows.Next() {
		var row model.NgramErrorCount
		if err := rows.Scan(&row.Ngram, &row.Size, &row.ErrorCount); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// QueryHistory returns history rows for one (user, keyboard), oldest
// first; ngram narrows to a single n-gram when non-empty.
func (s *Store) QueryHistory(ctx context.Context, userID, keyboardID int64, ngram string) ([]model.NgramSpeedSummaryHistory, error) {
	clauses := []string{"user_id = ?", "keyboard_id = ?"}
	args := []any{userID, keyboardID}
	if ngram != "" {
		clauses = append(clauses, "ngram = ?")
		args = append(args, ngram)
	}
	query := fmt.Sprintf(`SELECT id, user_id, keyboard_id, ngram, size, decaying_avg_ms, target_ms, target_pct, meets_target, sample_count, recorded_at
		FROM ngram_speed_summary_hist
		WHERE %s
		ORDER BY ngram ASC, recorded_at ASC, id ASC`, strings.Join(clauses, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.NgramSpeedSummaryHistory
	for rows.Next() {
		var row model.NgramSpeedSummaryHistory
		var recordedAt string
		if err := rows.Scan(&row.ID, &row.UserID, &row.KeyboardID, &row.Ngram, &row.Size, &row.DecayingAvgMs,
			&row.TargetMs, &row.TargetPct, &row.MeetsTarget, &row.SampleCount, &recordedAt); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, err
		}
		row.RecordedAt = parsed
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// QueryLastTwoComparisons returns, per n-gram, the delta between its
// two most recent history rows. N-grams with fewer than two rows are
// omitted.
func (s *Store) QueryLastTwoComparisons(ctx context.Context, userID, keyboardID int64) ([]model.NgramComparison, error) {
	query := `WITH ranked AS (
		SELECT ngram, size, decaying_avg_ms, recorded_at,
			ROW_NUMBER() OVER (PARTITION BY ngram ORDER BY recorded_at DESC, id DESC) AS rn
		FROM ngram_speed_summary_hist
		WHERE user_id = ? AND keyboard_id = ?
	)
	SELECT latest.ngram, latest.size, latest.decaying_avg_ms, prev.decaying_avg_ms, latest.recorded_at
	FROM ranked latest
	JOIN ranked prev ON prev.ngram = latest.ngram AND prev.rn = 2
	WHERE latest.rn = 1
	ORDER BY latest.ngram ASC`

	rows, err := s.db.QueryContext(ctx, query, userID, keyboardID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.NgramComparison
	for rows.Next() {
		var row model.NgramComparison
		var recordedAt string
		if err := rows.Scan(&row.Ngram, &row.Size, &row.LatestAvgMs, &row.PreviousAvgMs, &recordedAt); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, err
		}
		row.RecordedAt = parsed
		row.DeltaMs = row.LatestAvgMs - row.PreviousAvgMs
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
