package summarize

import (
	"context"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/verte-zerg/typedrill/internal/model"
	"github.com/verte-zerg/typedrill/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "typedrill.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func insertSession(t *testing.T, st *store.Store, startedAt time.Time, keys []model.Keystroke, speeds []model.SpeedNGram, errNgrams []model.ErrorNGram) int64 {
	t.Helper()
	id, err := st.InsertSessionData(context.Background(), model.Session{UserID: 1, KeyboardID: 1, StartedAt: startedAt}, keys, speeds, errNgrams)
	if err != nil {
		t.Fatalf("insert session: %v", err)
	}
	return id
}

func TestRunSummarizesAndIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	keys := []model.Keystroke{
		{PressedAt: base, Typed: "a", Expected: "a", KeyIndex: 0, TimeSincePrevMs: -1},
		{PressedAt: base.Add(400 * time.Millisecond), Typed: "b", Expected: "b", KeyIndex: 1, TimeSincePrevMs: 400},
		{PressedAt: base.Add(1000 * time.Millisecond), Typed: "a", Expected: "a", KeyIndex: 2, TimeSincePrevMs: 600},
	}
	speeds := []model.SpeedNGram{
		{Text: "ab", Size: 2, DurationMs: 400, Mode: model.SpeedFast},
		{Text: "ba", Size: 2, DurationMs: 600, Mode: model.SpeedNormal},
	}
	id := insertSession(t, st, base, keys, speeds, nil)

	sum := New(st, quietLogger())
	processed, err := sum.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	rows, err := st.ListSessionSummaries(ctx, id)
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	// Bigrams ab/ba plus 1-grams a/b from the keystroke log.
	if len(rows) != 4 {
		t.Fatalf("expected 4 summary rows, got %d: %+v", len(rows), rows)
	}
	byNgram := map[string]model.SessionNgramSummary{}
	for _, row := range rows {
		byNgram[row.Ngram] = row
	}
	if row := byNgram["ab"]; row.InstanceCount != 1 || row.AvgSpeedMs != 400 {
		t.Fatalf("unexpected ab summary: %+v", row)
	}
	// Two "a" keystrokes: one without a predecessor and one at 600ms.
	if row := byNgram["a"]; row.InstanceCount != 2 || math.Abs(row.AvgSpeedMs-300) > 1e-9 {
		t.Fatalf("unexpected a summary: %+v", row)
	}

	// Second run with no new sessions is a no-op.
	processed, err = sum.Run(ctx)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if processed != 0 {
		t.Fatalf("rerun processed = %d, want 0", processed)
	}
}

func TestRunSkipsIncompleteSessions(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	// A session with no keystroke log cannot be summarized.
	insertSession(t, st, base, nil, nil, nil)
	good := insertSession(t, st, base.Add(time.Hour), []model.Keystroke{
		{PressedAt: base.Add(time.Hour), Typed: "a", Expected: "a", KeyIndex: 0, TimeSincePrevMs: -1},
	}, nil, nil)

	sum := New(st, quietLogger())
	processed, err := sum.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}
	has, err := st.HasSessionSummary(ctx, good)
	if err != nil {
		t.Fatalf("has summary: %v", err)
	}
	if !has {
		t.Fatal("good session should be summarized despite earlier skip")
	}
}

func TestSummarizeCountsErrors(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	keys := []model.Keystroke{
		{PressedAt: base, Typed: "c", Expected: "c", KeyIndex: 0, TimeSincePrevMs: -1},
		{PressedAt: base.Add(500 * time.Millisecond), Typed: "x", Expected: "a", IsError: true, KeyIndex: 1, TimeSincePrevMs: 500},
	}
	speeds := []model.SpeedNGram{{Text: "ca", Size: 2, DurationMs: 500, Mode: model.SpeedNormal}}
	errNgrams := []model.ErrorNGram{{Text: "ca", Size: 2, Count: 1, Origin: model.OriginError}}
	id := insertSession(t, st, base, keys, speeds, errNgrams)

	sum := New(st, quietLogger())
	if err := sum.Session(ctx, id); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	rows, err := st.ListSessionSummaries(ctx, id)
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	byNgram := map[string]model.SessionNgramSummary{}
	for _, row := range rows {
		byNgram[row.Ngram] = row
	}
	if row := byNgram["ca"]; row.ErrorCount != 1 || row.InstanceCount != 1 {
		t.Fatalf("unexpected ca summary: %+v", row)
	}
	if row := byNgram["a"]; row.ErrorCount != 1 {
		t.Fatalf("mistyped keystroke should count on its 1-gram: %+v", row)
	}
}
