// Package store handles SQLite persistence.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/verte-zerg/typedrill/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store wraps SQLite access for session and summary data.
type Store struct {
	db *sql.DB
}

// timeLayout pads fractional seconds to a fixed width so stored text
// timestamps compare lexicographically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Open opens or creates the SQLite database and applies migrations.
// WAL and a busy timeout keep concurrent batch jobs from tripping over
// "database is locked".
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS keyboards (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			target_ms_per_keystroke INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			keyboard_id INTEGER NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_keystrokes (
			session_id INTEGER NOT NULL,
			key_index INTEGER NOT NULL,
			text_index INTEGER NOT NULL,
			typed TEXT NOT NULL,
			expected TEXT NOT NULL,
			is_error INTEGER NOT NULL,
			time_since_prev_ms INTEGER NOT NULL,
			pressed_at TEXT NOT NULL,
			PRIMARY KEY (session_id, key_index)
		);`,
		`CREATE TABLE IF NOT EXISTS session_ngram_speed (
			session_id INTEGER NOT NULL,
			ngram TEXT NOT NULL,
			size INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			mode TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_ngram_errors (
			session_id INTEGER NOT NULL,
			ngram TEXT NOT NULL,
			size INTEGER NOT NULL,
			error_count INTEGER NOT NULL,
			origin TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_ngram_summary (
			session_id INTEGER NOT NULL,
			ngram TEXT NOT NULL,
			size INTEGER NOT NULL,
			instance_count INTEGER NOT NULL,
			avg_speed_ms REAL NOT NULL,
			error_count INTEGER NOT NULL,
			PRIMARY KEY (session_id, ngram)
		);`,
		`CREATE TABLE IF NOT EXISTS ngram_speed_summary (
			user_id INTEGER NOT NULL,
			keyboard_id INTEGER NOT NULL,
			ngram TEXT NOT NULL,
			size INTEGER NOT NULL,
			decaying_avg_ms REAL NOT NULL,
			target_ms INTEGER NOT NULL,
			target_pct REAL NOT NULL,
			meets_target INTEGER NOT NULL,
			sample_count INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (user_id, keyboard_id, ngram)
		);`,
		`CREATE TABLE IF NOT EXISTS ngram_speed_summary_hist (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			keyboard_id INTEGER NOT NULL,
			ngram TEXT NOT NULL,
			size INTEGER NOT NULL,
			decaying_avg_ms REAL NOT NULL,
			target_ms INTEGER NOT NULL,
			target_pct REAL NOT NULL,
			meets_target INTEGER NOT NULL,
			sample_count INTEGER NOT NULL,
			checksum TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_keyboard ON sessions(user_id, keyboard_id);`,
		`CREATE INDEX IF NOT EXISTS idx_ngram_speed_session ON session_ngram_speed(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_ngram_errors_session ON session_ngram_errors(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_summary_ngram ON session_ngram_summary(ngram);`,
		`CREATE INDEX IF NOT EXISTS idx_hist_key ON ngram_speed_summary_hist(user_id, keyboard_id, ngram, recorded_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateKeyboard inserts a keyboard; targetMs may be nil for "unset".
func (s *Store) CreateKeyboard(ctx context.Context, userID int64, name string, targetMs *int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO keyboards (user_id, name, target_ms_per_keystroke) VALUES (?, ?, ?)`,
		userID, name, targetMs)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetKeyboard loads one keyboard by id.
func (s *Store) GetKeyboard(ctx context.Context, id int64) (model.Keyboard, error) {
	var kb model.Keyboard
	var target sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, target_ms_per_keystroke FROM keyboards WHERE id = ?`, id).
		Scan(&kb.ID, &kb.UserID, &kb.Name, &target)
	if err == sql.ErrNoRows {
		return model.Keyboard{}, fmt.Errorf("keyboard %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Keyboard{}, err
	}
	if target.Valid {
		kb.TargetMsPerKeystroke = &target.Int64
	}
	return kb, nil
}

// SetKeyboardTarget updates one keyboard's target speed.
func (s *Store) SetKeyboardTarget(ctx context.Context, id, targetMs int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE keyboards SET target_ms_per_keystroke = ? WHERE id = ?`, targetMs, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("keyboard %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, id int64) (model.Session, error) {
	var sess model.Session
	var startedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, keyboard_id, started_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.UserID, &sess.KeyboardID, &startedAt)
	if err == sql.ErrNoRows {
		return model.Session{}, fmt.Errorf("session %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Session{}, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return model.Session{}, err
	}
	sess.StartedAt = parsed
	return sess, nil
}

// ListSessionsChronological returns every session ordered by start time
// ascending, for catch-up processing.
func (s *Store) ListSessionsChronological(ctx context.Context) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, keyboard_id, started_at FROM sessions ORDER BY started_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var sessions []model.Session
	for rows.Next() {
		var sess model.Session
		var startedAt string
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.KeyboardID, &startedAt); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, err
		}
		sess.StartedAt = parsed
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// InsertSessionData stores one session with its raw keystroke log and
// derived n-gram rows in a single transaction.
func (s *Store) InsertSessionData(ctx context.Context, sess model.Session, keys []model.Keystroke, speeds []model.SpeedNGram, errNgrams []model.ErrorNGram) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (user_id, keyboard_id, started_at) VALUES (?, ?, ?)`,
		sess.UserID, sess.KeyboardID, formatTime(sess.StartedAt))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if err = insertKeystrokes(ctx, tx, id, keys); err != nil {
		return 0, err
	}
	if err = insertSpeedNgrams(ctx, tx, id, speeds); err != nil {
		return 0, err
	}
	if err = insertErrorNgrams(ctx, tx, id, errNgrams); err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func insertKeystrokes(ctx context.Context, tx *sql.Tx, sessionID int64, keys []model.Keystroke) error {
	if len(keys) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_keystrokes (session_id, key_index, text_index, typed, expected, is_error, time_since_prev_ms, pressed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, sessionID, k.KeyIndex, k.TextIndex, k.Typed, k.Expected, k.IsError, k.TimeSincePrevMs, formatTime(k.PressedAt)); err != nil {
			return err
		}
	}
	return nil
}

func insertSpeedNgrams(ctx context.Context, tx *sql.Tx, sessionID int64, speeds []model.SpeedNGram) error {
	if len(speeds) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_ngram_speed (session_id, ngram, size, duration_ms, mode) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()
	for _, sp := range speeds {
		if _, err := stmt.ExecContext(ctx, sessionID, sp.Text, sp.Size, sp.DurationMs, string(sp.Mode)); err != nil {
			return err
		}
	}
	return nil
}

func insertErrorNgrams(ctx context.Context, tx *sql.Tx, sessionID int64, errNgrams []model.ErrorNGram) error {
	if len(errNgrams) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_ngram_errors (session_id, ngram, size, error_count, origin) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()
	for _, eg := range errNgrams {
		if _, err := stmt.ExecContext(ctx, sessionID, eg.Text, eg.Size, eg.Count, string(eg.Origin)); err != nil {
			return err
		}
	}
	return nil
}
