package ngram

import (
	"errors"
	"testing"
	"time"

	"github.com/verte-zerg/typedrill/internal/keystroke"
	"github.com/verte-zerg/typedrill/internal/model"
)

// typeText runs a plain character sequence through a collection and
// returns the net track, so TimeSincePrevMs is populated per track.
func typeText(t *testing.T, sessionID int64, text string, gapMs int64) []model.Keystroke {
	t.Helper()
	base := time.Unix(0, 0)
	c := keystroke.New()
	for i, r := range text {
		at := base.Add(time.Duration(int64(i)*gapMs) * time.Millisecond)
		c.Add(model.NewKeystroke(sessionID, at, string(r), string(r), i, i))
	}
	return c.Net()
}

func TestExtractSpeedWindows(t *testing.T) {
	keys := typeText(t, 1, "abcd", 100)
	speeds, errNgrams, err := Extract(keys, []int{2, 3}, DefaultThresholds())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(errNgrams) != 0 {
		t.Fatalf("expected no error n-grams, got %d", len(errNgrams))
	}
	// 3 bigrams + 2 trigrams.
	if len(speeds) != 5 {
		t.Fatalf("expected 5 speed n-grams, got %d", len(speeds))
	}
	if speeds[0].Text != "ab" || speeds[0].DurationMs != 100 {
		t.Fatalf("unexpected first bigram: %+v", speeds[0])
	}
	if speeds[3].Text != "abc" || speeds[3].DurationMs != 200 {
		t.Fatalf("unexpected first trigram: %+v", speeds[3])
	}
	for _, sp := range speeds {
		if sp.Mode != model.SpeedFast {
			t.Fatalf("100ms per keystroke should classify fast, got %s for %q", sp.Mode, sp.Text)
		}
	}
}

func TestExtractSingleCharRecords(t *testing.T) {
	keys := typeText(t, 1, "ab", 500)
	speeds, errNgrams, err := Extract(keys, []int{1}, DefaultThresholds())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(speeds) != 2 {
		t.Fatalf("expected exactly 2 speed n-grams, got %d", len(speeds))
	}
	if len(errNgrams) != 0 {
		t.Fatalf("expected no error n-grams, got %d", len(errNgrams))
	}
	// First keystroke has no predecessor, so its record degrades to 0.
	if speeds[0].DurationMs != 0 {
		t.Fatalf("first 1-gram duration = %d, want 0", speeds[0].DurationMs)
	}
	if speeds[1].DurationMs != 500 {
		t.Fatalf("second 1-gram duration = %d, want 500", speeds[1].DurationMs)
	}
}

func TestExtractTagsSlowWindows(t *testing.T) {
	keys := typeText(t, 1, "ab", 800)
	speeds, errNgrams, err := Extract(keys, []int{2}, DefaultThresholds())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(speeds) != 1 || speeds[0].Mode != model.SpeedSlow {
		t.Fatalf("800ms per keystroke should classify slow, got %+v", speeds)
	}
	if len(errNgrams) != 1 {
		t.Fatalf("expected 1 error n-gram for the slow window, got %d", len(errNgrams))
	}
	if errNgrams[0].Origin != model.OriginSpeed || errNgrams[0].Count != 1 || errNgrams[0].Text != "ab" {
		t.Fatalf("unexpected slow-window n-gram: %+v", errNgrams[0])
	}
}

func TestExtractTrailingErrorPolicy(t *testing.T) {
	base := time.Unix(0, 0)
	mk := func(typed, expected string, i int) model.Keystroke {
		k := model.NewKeystroke(1, base.Add(time.Duration(i)*100*time.Millisecond), typed, expected, i, i)
		k.TimeSincePrevMs = 100
		return k
	}
	// "cat" typed as "cxt": only windows ending at index 1 are errors.
	keys := []model.Keystroke{mk("c", "c", 0), mk("x", "a", 1), mk("t", "t", 2)}

	_, errNgrams, err := Extract(keys, []int{2}, DefaultThresholds())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(errNgrams) != 1 {
		t.Fatalf("expected 1 error n-gram, got %d", len(errNgrams))
	}
	if errNgrams[0].Text != "ca" || errNgrams[0].Count != 1 || errNgrams[0].Origin != model.OriginError {
		t.Fatalf("unexpected error n-gram: %+v", errNgrams[0])
	}
	// The "at" window carries the error at its first position only and
	// must not be re-flagged.
}

func TestExtractDropsCrossSessionWindows(t *testing.T) {
	base := time.Unix(0, 0)
	mk := func(sessionID int64, ch string, i int) model.Keystroke {
		k := model.NewKeystroke(sessionID, base.Add(time.Duration(i)*100*time.Millisecond), ch, ch, i, i)
		k.TimeSincePrevMs = 100
		return k
	}
	keys := []model.Keystroke{mk(1, "a", 0), mk(1, "b", 1), mk(2, "c", 2)}
	speeds, _, err := Extract(keys, []int{2}, DefaultThresholds())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(speeds) != 1 {
		t.Fatalf("expected 1 speed n-gram, got %d", len(speeds))
	}
	if speeds[0].Text != "ab" {
		t.Fatalf("unexpected window survived: %+v", speeds[0])
	}
}

func TestExtractRejectsBadSize(t *testing.T) {
	keys := typeText(t, 1, "ab", 100)
	for _, n := range []int{0, -1, 21} {
		if _, _, err := Extract(keys, []int{n}, DefaultThresholds()); !errors.Is(err, model.ErrInvalidArgument) {
			t.Fatalf("size %d: expected ErrInvalidArgument, got %v", n, err)
		}
	}
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		perKeyMs int64
		want     model.SpeedMode
	}{
		{100, model.SpeedFast},
		{449, model.SpeedFast},
		{450, model.SpeedNormal},
		{600, model.SpeedNormal},
		{750, model.SpeedNormal},
		{751, model.SpeedSlow},
	}
	for _, tc := range cases {
		if got := th.Classify(tc.perKeyMs); got != tc.want {
			t.Fatalf("Classify(%d) = %s, want %s", tc.perKeyMs, got, tc.want)
		}
	}
}
