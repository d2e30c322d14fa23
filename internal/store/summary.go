package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/verte-zerg/typedrill/internal/model"
)

// ObservationRow is one per-session measurement of an n-gram, as read
// back for decaying-average refreshes.
type ObservationRow struct {
	SessionID     int64
	AvgSpeedMs    float64
	InstanceCount int
	StartedAt     time.Time
}

// ListUnsummarizedSessionIDs returns sessions with no summary rows yet,
// oldest first.
func (s *Store) ListUnsummarizedSessionIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions
		 WHERE id NOT IN (SELECT DISTINCT session_id FROM session_ngram_summary)
		 ORDER BY started_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// HasSessionSummary reports whether a session already has summary rows.
func (s *Store) HasSessionSummary(ctx context.Context, sessionID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM session_ngram_summary WHERE session_id = ?)`, sessionID).
		Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ListSessionSpeedNgrams returns a session's raw speed n-gram rows.
func (s *Store) ListSessionSpeedNgrams(ctx context.Context, sessionID int64) ([]model.SpeedNGram, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, ngram, size, duration_ms, mode FROM session_ngram_speed WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.SpeedNGram
	for rows.Next() {
		var sp model.SpeedNGram
		var mode string
		if err := rows.Scan(&sp.SessionID, &sp.Text, &sp.Size, &sp.DurationMs, &mode); err != nil {
			return nil, err
		}
		sp.Mode = model.SpeedMode(mode)
		result = append(result, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListSessionErrorNgrams returns a session's raw error n-gram rows.
func (s *Store) ListSessionErrorNgrams(ctx context.Context, sessionID int64) ([]model.ErrorNGram, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, ngram, size, error_count, origin FROM session_ngram_errors WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.ErrorNGram
	for rows.Next() {
		var eg model.ErrorNGram
		var origin string
		if err := rows.Scan(&eg.SessionID, &eg.Text, &eg.Size, &eg.Count, &origin); err != nil {
			return nil, err
		}
		eg.Origin = model.ErrorOrigin(origin)
		result = append(result, eg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListSessionKeystrokes returns a session's raw keystroke log in typed
// order.
func (s *Store) ListSessionKeystrokes(ctx context.Context, sessionID int64) ([]model.Keystroke, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, key_index, text_index, typed, expected, is_error, time_since_prev_ms, pressed_at
		 FROM session_keystrokes WHERE session_id = ? ORDER BY key_index ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.Keystroke
	for rows.Next() {
		var k model.Keystroke
		var pressedAt string
		if err := rows.Scan(&k.SessionID, &k.KeyIndex, &k.TextIndex, &k.Typed, &k.Expected, &k.IsError, &k.TimeSincePrevMs, &pressedAt); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, pressedAt)
		if err != nil {
			return nil, err
		}
		k.PressedAt = parsed
		result = append(result, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// InsertSessionSummaries writes a session's summary rows in one
// transaction; a session is either fully summarized or not at all.
func (s *Store) InsertSessionSummaries(ctx context.Context, summaries []model.SessionNgramSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_ngram_summary (session_id, ngram, size, instance_count, avg_speed_ms, error_count)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()
	for _, row := range summaries {
		if _, err = stmt.ExecContext(ctx, row.SessionID, row.Ngram, row.Size, row.InstanceCount, row.AvgSpeedMs, row.ErrorCount); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// ListSessionSummaries returns the summary rows of one session.
func (s *Store) ListSessionSummaries(ctx context.Context, sessionID int64) ([]model.SessionNgramSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, ngram, size, instance_count, avg_speed_ms, error_count
		 FROM session_ngram_summary WHERE session_id = ? ORDER BY ngram ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.SessionNgramSummary
	for rows.Next() {
		var row model.SessionNgramSummary
		if err := rows.Scan(&row.SessionID, &row.Ngram, &row.Size, &row.InstanceCount, &row.AvgSpeedMs, &row.ErrorCount); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListNgramObservations returns the most recent per-session summary
// rows for one (user, keyboard, n-gram), newest session first, bounded
// by limit. Only sessions started at or before asOf participate, so a
// catch-up pass replaying old sessions sees the history as it was.
func (s *Store) ListNgramObservations(ctx context.Context, userID, keyboardID int64, ngram string, asOf time.Time, limit int) ([]ObservationRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sns.session_id, sns.avg_speed_ms, sns.instance_count, sess.started_at
		 FROM session_ngram_summary sns
		 JOIN sessions sess ON sess.id = sns.session_id
		 WHERE sess.user_id = ? AND sess.keyboard_id = ? AND sns.ngram = ? AND sess.started_at <= ?
		 ORDER BY sess.started_at DESC, sess.id DESC
		 LIMIT ?`, userID, keyboardID, ngram, formatTime(asOf), limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []ObservationRow
	for rows.Next() {
		var obs ObservationRow
		var startedAt string
		if err := rows.Scan(&obs.SessionID, &obs.AvgSpeedMs, &obs.InstanceCount, &startedAt); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, err
		}
		obs.StartedAt = parsed
		result = append(result, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpsertCurrentSummary replaces the current-state row by natural key
// (last write wins) and reports whether a row already existed.
func (s *Store) UpsertCurrentSummary(ctx context.Context, row model.NgramSpeedSummary) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ngram_speed_summary WHERE user_id = ? AND keyboard_id = ? AND ngram = ?)`,
		row.UserID, row.KeyboardID, row.Ngram).Scan(&exists)
	if err != nil {
		return false, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ngram_speed_summary (user_id, keyboard_id, ngram, size, decaying_avg_ms, target_ms, target_pct, meets_target, sample_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, keyboard_id, ngram) DO UPDATE SET
			size = excluded.size,
			decaying_avg_ms = excluded.decaying_avg_ms,
			target_ms = excluded.target_ms,
			target_pct = excluded.target_pct,
			meets_target = excluded.meets_target,
			sample_count = excluded.sample_count,
			updated_at = excluded.updated_at`,
		row.UserID, row.KeyboardID, row.Ngram, row.Size, row.DecayingAvgMs, row.TargetMs,
		row.TargetPct, row.MeetsTarget, row.SampleCount, formatTime(row.UpdatedAt))
	if err != nil {
		return false, err
	}
	return exists, nil
}

// LatestHistoryChecksum returns the checksum of the most recent history
// row for one (user, keyboard, n-gram); ok is false when none exists.
func (s *Store) LatestHistoryChecksum(ctx context.Context, userID, keyboardID int64, ngram string) (string, bool, error) {
	var checksum string
	err := s.db.QueryRowContext(ctx,
		`SELECT checksum FROM ngram_speed_summary_hist
		 WHERE user_id = ? AND keyboard_id = ? AND ngram = ?
		 ORDER BY recorded_at DESC, id DESC LIMIT 1`,
		userID, keyboardID, ngram).Scan(&checksum)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return checksum, true, nil
}

// AppendHistory appends one measurement row; history is append-only.
func (s *Store) AppendHistory(ctx context.Context, row model.NgramSpeedSummaryHistory, checksum string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ngram_speed_summary_hist (user_id, keyboard_id, ngram, size, decaying_avg_ms, target_ms, target_pct, meets_target, sample_count, checksum, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.UserID, row.KeyboardID, row.Ngram, row.Size, row.DecayingAvgMs, row.TargetMs,
		row.TargetPct, row.MeetsTarget, row.SampleCount, checksum, formatTime(row.RecordedAt))
	return err
}
