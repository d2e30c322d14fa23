// Package ingest loads recorded typing sessions from JSON logs and
// persists them with their derived n-gram rows.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/verte-zerg/typedrill/internal/keystroke"
	"github.com/verte-zerg/typedrill/internal/model"
	"github.com/verte-zerg/typedrill/internal/ngram"
	"github.com/verte-zerg/typedrill/internal/store"
)

// Options control n-gram derivation during ingestion.
type Options struct {
	Sizes      []int
	Thresholds ngram.Thresholds
}

// DefaultOptions derives bigrams and trigrams with the default speed
// ladder.
func DefaultOptions() Options {
	return Options{Sizes: []int{2, 3}, Thresholds: ngram.DefaultThresholds()}
}

// Result reports what one ingested session produced.
type Result struct {
	SessionID   int64
	RawCount    int
	NetCount    int
	SpeedNgrams int
	ErrorNgrams int
}

// sessionLog is the on-disk JSON shape of one recorded session.
type sessionLog struct {
	UserID     int64          `json:"user_id"`
	KeyboardID int64          `json:"keyboard_id"`
	StartedAt  time.Time      `json:"started_at"`
	Keystrokes []keystrokeLog `json:"keystrokes"`
}

type keystrokeLog struct {
	At        time.Time `json:"at"`
	Typed     string    `json:"typed"`
	Expected  string    `json:"expected"`
	TextIndex int       `json:"text_index"`
}

// File ingests one session log from disk.
func File(ctx context.Context, st *store.Store, path string, opts Options) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			// Best-effort close.
			_ = cerr
		}
	}()
	return Read(ctx, st, f, opts)
}

// Read ingests one session log from a reader. The raw keystroke ledger
// and the net-track n-grams land in a single transaction; the session
// keyboard must already exist.
func Read(ctx context.Context, st *store.Store, r io.Reader, opts Options) (Result, error) {
	var sl sessionLog
	dec := json.NewDecoder(r)
	if err := dec.Decode(&sl); err != nil {
		return Result{}, fmt.Errorf("%w: decode session log: %v", model.ErrInvalidArgument, err)
	}
	if err := validate(sl); err != nil {
		return Result{}, err
	}
	if _, err := st.GetKeyboard(ctx, sl.KeyboardID); err != nil {
		return Result{}, err
	}

	coll := keystroke.New()
	for i, kl := range sl.Keystrokes {
		k := model.NewKeystroke(0, kl.At, kl.Typed, kl.Expected, kl.TextIndex, i)
		coll.Add(k)
	}

	speeds, errNgrams, err := ngram.Extract(coll.Net(), opts.Sizes, opts.Thresholds)
	if err != nil {
		return Result{}, err
	}

	sess := model.Session{
		UserID:     sl.UserID,
		KeyboardID: sl.KeyboardID,
		StartedAt:  sl.StartedAt,
	}
	id, err := st.InsertSessionData(ctx, sess, coll.Raw(), speeds, errNgrams)
	if err != nil {
		return Result{}, err
	}
	return Result{
		SessionID:   id,
		RawCount:    coll.RawCount(),
		NetCount:    coll.NetCount(),
		SpeedNgrams: len(speeds),
		ErrorNgrams: len(errNgrams),
	}, nil
}

func validate(sl sessionLog) error {
	if sl.UserID <= 0 {
		return fmt.Errorf("%w: user_id must be positive", model.ErrInvalidArgument)
	}
	if sl.KeyboardID <= 0 {
		return fmt.Errorf("%w: keyboard_id must be positive", model.ErrInvalidArgument)
	}
	if sl.StartedAt.IsZero() {
		return fmt.Errorf("%w: started_at is required", model.ErrInvalidArgument)
	}
	if len(sl.Keystrokes) == 0 {
		return fmt.Errorf("%w: session log has no keystrokes", model.ErrInvalidArgument)
	}
	return nil
}
