package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/verte-zerg/typedrill/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "typedrill.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func insertTestSession(t *testing.T, st *Store, userID, keyboardID int64, startedAt time.Time) int64 {
	t.Helper()
	ctx := context.Background()
	keys := []model.Keystroke{
		{SessionID: 0, PressedAt: startedAt, Typed: "a", Expected: "a", TextIndex: 0, KeyIndex: 0, TimeSincePrevMs: -1},
		{SessionID: 0, PressedAt: startedAt.Add(500 * time.Millisecond), Typed: "b", Expected: "b", TextIndex: 1, KeyIndex: 1, TimeSincePrevMs: 500},
	}
	speeds := []model.SpeedNGram{
		{Text: "ab", Size: 2, DurationMs: 500, Mode: model.SpeedNormal},
	}
	errNgrams := []model.ErrorNGram{
		{Text: "ab", Size: 2, Count: 1, Origin: model.OriginError},
	}
	id, err := st.InsertSessionData(ctx, model.Session{UserID: userID, KeyboardID: keyboardID, StartedAt: startedAt}, keys, speeds, errNgrams)
	if err != nil {
		t.Fatalf("insert session data: %v", err)
	}
	return id
}

func TestInsertSessionDataRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	id := insertTestSession(t, st, 1, 1, start)

	sess, err := st.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !sess.StartedAt.Equal(start) {
		t.Fatalf("started at = %v, want %v", sess.StartedAt, start)
	}

	keys, err := st.ListSessionKeystrokes(ctx, id)
	if err != nil {
		t.Fatalf("list keystrokes: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keystrokes, got %d", len(keys))
	}
	if keys[0].TimeSincePrevMs != -1 || keys[1].TimeSincePrevMs != 500 {
		t.Fatalf("unexpected keystroke timings: %+v", keys)
	}

	speeds, err := st.ListSessionSpeedNgrams(ctx, id)
	if err != nil {
		t.Fatalf("list speed ngrams: %v", err)
	}
	if len(speeds) != 1 || speeds[0].Text != "ab" || speeds[0].Mode != model.SpeedNormal {
		t.Fatalf("unexpected speed ngrams: %+v", speeds)
	}

	errNgrams, err := st.ListSessionErrorNgrams(ctx, id)
	if err != nil {
		t.Fatalf("list error ngrams: %v", err)
	}
	if len(errNgrams) != 1 || errNgrams[0].Count != 1 {
		t.Fatalf("unexpected error ngrams: %+v", errNgrams)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.GetSession(context.Background(), 404); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestKeyboardTargetRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.CreateKeyboard(ctx, 1, "laptop", nil)
	if err != nil {
		t.Fatalf("create keyboard: %v", err)
	}
	kb, err := st.GetKeyboard(ctx, id)
	if err != nil {
		t.Fatalf("get keyboard: %v", err)
	}
	if kb.TargetMsPerKeystroke != nil {
		t.Fatalf("expected unset target, got %v", *kb.TargetMsPerKeystroke)
	}
	if kb.TargetMs() != model.DefaultTargetMs {
		t.Fatalf("default target = %d, want %d", kb.TargetMs(), model.DefaultTargetMs)
	}

	if err := st.SetKeyboardTarget(ctx, id, 500); err != nil {
		t.Fatalf("set target: %v", err)
	}
	kb, err = st.GetKeyboard(ctx, id)
	if err != nil {
		t.Fatalf("get keyboard: %v", err)
	}
	if kb.TargetMs() != 500 {
		t.Fatalf("target = %d, want 500", kb.TargetMs())
	}

	if err := st.SetKeyboardTarget(ctx, 404, 500); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUnsummarizedSessionScan(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	first := insertTestSession(t, st, 1, 1, base)
	second := insertTestSession(t, st, 1, 1, base.Add(time.Hour))

	ids, err := st.ListUnsummarizedSessionIDs(ctx)
	if err != nil {
		t.Fatalf("list unsummarized: %v", err)
	}
	if len(ids) != 2 || ids[0] != first || ids[1] != second {
		t.Fatalf("unexpected unsummarized ids: %v", ids)
	}

	err = st.InsertSessionSummaries(ctx, []model.SessionNgramSummary{
		{SessionID: first, Ngram: "ab", Size: 2, InstanceCount: 1, AvgSpeedMs: 500, ErrorCount: 1},
	})
	if err != nil {
		t.Fatalf("insert summaries: %v", err)
	}

	has, err := st.HasSessionSummary(ctx, first)
	if err != nil {
		t.Fatalf("has summary: %v", err)
	}
	if !has {
		t.Fatal("expected summary to exist")
	}

	ids, err = st.ListUnsummarizedSessionIDs(ctx)
	if err != nil {
		t.Fatalf("list unsummarized: %v", err)
	}
	if len(ids) != 1 || ids[0] != second {
		t.Fatalf("unexpected unsummarized ids after insert: %v", ids)
	}
}

func TestUpsertCurrentSummaryReportsExisting(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	row := model.NgramSpeedSummary{
		UserID: 1, KeyboardID: 1, Ngram: "th", Size: 2,
		DecayingAvgMs: 700, TargetMs: 600, TargetPct: 85.7,
		MeetsTarget: false, SampleCount: 3, UpdatedAt: time.Now().UTC(),
	}
	existed, err := st.UpsertCurrentSummary(ctx, row)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if existed {
		t.Fatal("first upsert should report a new row")
	}

	row.DecayingAvgMs = 550
	row.MeetsTarget = true
	existed, err = st.UpsertCurrentSummary(ctx, row)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !existed {
		t.Fatal("second upsert should report replacement")
	}

	rows, err := st.QueryHeatmapSummaries(ctx, 1, 1, model.SummaryFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("upsert must not duplicate rows, got %d", len(rows))
	}
	if rows[0].DecayingAvgMs != 550 || !rows[0].MeetsTarget {
		t.Fatalf("last write did not win: %+v", rows[0])
	}
}

func TestGlobOutsideClass(t *testing.T) {
	cases := []struct {
		whitelist string
		want      string
	}{
		{"abc", "*[^abc]*"},
		{"a]b", "*[^]ab]*"},
		{"a-b", "*[^ab-]*"},
		{"aab", "*[^ab]*"},
	}
	for _, tc := range cases {
		if got := globOutsideClass(tc.whitelist); got != tc.want {
			t.Fatalf("globOutsideClass(%q) = %q, want %q", tc.whitelist, got, tc.want)
		}
	}
}

func TestQuerySlowestFilters(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	rows := []model.NgramSpeedSummary{
		{UserID: 1, KeyboardID: 1, Ngram: "th", Size: 2, DecayingAvgMs: 900, TargetMs: 600, TargetPct: 66.7, MeetsTarget: false, SampleCount: 10, UpdatedAt: now},
		{UserID: 1, KeyboardID: 1, Ngram: "he", Size: 2, DecayingAvgMs: 500, TargetMs: 600, TargetPct: 120, MeetsTarget: true, SampleCount: 10, UpdatedAt: now},
		{UserID: 1, KeyboardID: 1, Ngram: "xq", Size: 2, DecayingAvgMs: 1200, TargetMs: 600, TargetPct: 50, MeetsTarget: false, SampleCount: 1, UpdatedAt: now},
		{UserID: 1, KeyboardID: 1, Ngram: "ing", Size: 3, DecayingAvgMs: 800, TargetMs: 600, TargetPct: 75, MeetsTarget: false, SampleCount: 10, UpdatedAt: now},
	}
	for _, row := range rows {
		if _, err := st.UpsertCurrentSummary(ctx, row); err != nil {
			t.Fatalf("upsert %s: %v", row.Ngram, err)
		}
	}

	got, err := st.QuerySlowestSummaries(ctx, 1, 1, 10, model.SummaryFilter{Size: 2, MinSampleCount: 5, MissedTargetOnly: true})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].Ngram != "th" {
		t.Fatalf("unexpected filtered rows: %+v", got)
	}

	got, err = st.QuerySlowestSummaries(ctx, 1, 1, 10, model.SummaryFilter{IncludedChars: "the"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected th and he, got %+v", got)
	}
	for _, row := range got {
		if row.Ngram != "th" && row.Ngram != "he" {
			t.Fatalf("whitelist let %q through", row.Ngram)
		}
	}

	got, err = st.QuerySlowestSummaries(ctx, 1, 1, 2, model.SummaryFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].Ngram != "xq" || got[1].Ngram != "th" {
		t.Fatalf("expected slowest-first bounded list, got %+v", got)
	}
}

func TestQueryLastTwoComparisons(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	hist := []model.NgramSpeedSummaryHistory{
		{UserID: 1, KeyboardID: 1, Ngram: "th", Size: 2, DecayingAvgMs: 700, TargetMs: 600, TargetPct: 85.7, SampleCount: 2, RecordedAt: base},
		{UserID: 1, KeyboardID: 1, Ngram: "th", Size: 2, DecayingAvgMs: 650, TargetMs: 600, TargetPct: 92.3, SampleCount: 3, RecordedAt: base.Add(time.Hour)},
		{UserID: 1, KeyboardID: 1, Ngram: "th", Size: 2, DecayingAvgMs: 640, TargetMs: 600, TargetPct: 93.8, SampleCount: 4, RecordedAt: base.Add(2 * time.Hour)},
		{UserID: 1, KeyboardID: 1, Ngram: "he", Size: 2, DecayingAvgMs: 500, TargetMs: 600, TargetPct: 120, SampleCount: 1, RecordedAt: base},
	}
	for i, h := range hist {
		if err := st.AppendHistory(ctx, h, string(rune('a'+i))); err != nil {
			t.Fatalf("append history: %v", err)
		}
	}

	comparisons, err := st.QueryLastTwoComparisons(ctx, 1, 1)
	if err != nil {
		t.Fatalf("query comparisons: %v", err)
	}
	// "he" has a single row and is omitted.
	if len(comparisons) != 1 {
		t.Fatalf("expected 1 comparison, got %d", len(comparisons))
	}
	c := comparisons[0]
	if c.Ngram != "th" || c.LatestAvgMs != 640 || c.PreviousAvgMs != 650 {
		t.Fatalf("unexpected comparison: %+v", c)
	}
	if c.DeltaMs != -10 {
		t.Fatalf("delta = %f, want -10", c.DeltaMs)
	}
}

func TestLatestHistoryChecksum(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, ok, err := st.LatestHistoryChecksum(ctx, 1, 1, "th")
	if err != nil {
		t.Fatalf("latest checksum: %v", err)
	}
	if ok {
		t.Fatal("expected no checksum for empty history")
	}

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	row := model.NgramSpeedSummaryHistory{UserID: 1, KeyboardID: 1, Ngram: "th", Size: 2, DecayingAvgMs: 700, TargetMs: 600, TargetPct: 85.7, SampleCount: 2, RecordedAt: base}
	if err := st.AppendHistory(ctx, row, "first"); err != nil {
		t.Fatalf("append: %v", err)
	}
	row.RecordedAt = base.Add(time.Hour)
	if err := st.AppendHistory(ctx, row, "second"); err != nil {
		t.Fatalf("append: %v", err)
	}

	checksum, ok, err := st.LatestHistoryChecksum(ctx, 1, 1, "th")
	if err != nil {
		t.Fatalf("latest checksum: %v", err)
	}
	if !ok || checksum != "second" {
		t.Fatalf("checksum = %q ok=%t, want second/true", checksum, ok)
	}
}

func TestOpenAppliesPragmas(t *testing.T) {
	st := openTestStore(t)

	var mode string
	if err := st.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}

	var busy int64
	if err := st.db.QueryRow(`PRAGMA busy_timeout`).Scan(&busy); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if busy != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", busy)
	}
}

func TestChronologicalOrderAcrossFractionalPrecision(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// A whole-second start must sort before a fractional start in the
	// same second, which holds only if stored timestamps carry
	// fixed-width fractional digits.
	whole := time.Date(2025, 3, 1, 10, 0, 5, 0, time.UTC)
	frac := whole.Add(500 * time.Millisecond)
	first := insertTestSession(t, st, 1, 1, whole)
	second := insertTestSession(t, st, 1, 1, frac)

	sessions, err := st.ListSessionsChronological(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != first || sessions[1].ID != second {
		t.Fatalf("sessions out of chronological order: got [%d %d], want [%d %d]",
			sessions[0].ID, sessions[1].ID, first, second)
	}

	for _, id := range []int64{first, second} {
		err := st.InsertSessionSummaries(ctx, []model.SessionNgramSummary{
			{SessionID: id, Ngram: "ab", Size: 2, InstanceCount: 1, AvgSpeedMs: 500},
		})
		if err != nil {
			t.Fatalf("insert summaries: %v", err)
		}
	}
	obs, err := st.ListNgramObservations(ctx, 1, 1, "ab", frac, 20)
	if err != nil {
		t.Fatalf("list observations: %v", err)
	}
	// The bound is inclusive and must not drop the whole-second session.
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations at the fractional bound, got %d", len(obs))
	}
	if !obs[0].StartedAt.Equal(frac) || !obs[1].StartedAt.Equal(whole) {
		t.Fatalf("observations out of recency order: %+v", obs)
	}
}
