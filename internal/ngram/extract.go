// Package ngram derives timed and mistyped character windows from
// keystroke sequences.
package ngram

import (
	"fmt"
	"strings"

	"github.com/verte-zerg/typedrill/internal/model"
)

// Thresholds is the speed classification ladder in per-keystroke
// milliseconds: durations below FastBelowMs classify fast, above
// SlowAboveMs slow, anything else normal.
type Thresholds struct {
	FastBelowMs int64
	SlowAboveMs int64
}

// DefaultThresholds brackets the 600ms default target at 75% and 125%.
func DefaultThresholds() Thresholds {
	return Thresholds{FastBelowMs: 450, SlowAboveMs: 750}
}

// Classify maps a per-keystroke duration onto the ladder.
func (t Thresholds) Classify(perKeyMs int64) model.SpeedMode {
	switch {
	case perKeyMs < t.FastBelowMs:
		return model.SpeedFast
	case perKeyMs > t.SlowAboveMs:
		return model.SpeedSlow
	default:
		return model.SpeedNormal
	}
}

// Extract produces every contiguous window of the requested sizes from
// the net keystroke sequence. Each window yields one speed n-gram. A
// window classified slow additionally yields a speed-origin error
// n-gram, and a window whose last position is an error yields an
// error-origin one (earlier in-window errors are not re-flagged, so a
// sliding error is counted exactly once). Windows shorter than the
// requested size or spanning a session boundary are dropped.
func Extract(keys []model.Keystroke, sizes []int, th Thresholds) ([]model.SpeedNGram, []model.ErrorNGram, error) {
	for _, n := range sizes {
		if n < model.MinNgramSize || n > model.MaxNgramSize {
			return nil, nil, fmt.Errorf("%w: n-gram size %d outside %d-%d", model.ErrInvalidArgument, n, model.MinNgramSize, model.MaxNgramSize)
		}
	}
	var speeds []model.SpeedNGram
	var errs []model.ErrorNGram
	for _, n := range sizes {
		for i := 0; i+n <= len(keys); i++ {
			window := keys[i : i+n]
			if spansSessions(window) {
				continue
			}
			duration := windowDuration(window)
			perKey := duration
			if n > 1 {
				perKey = duration / int64(n-1)
			}
			mode := th.Classify(perKey)
			sp, err := model.NewSpeedNGram(window[0].SessionID, windowText(window), n, duration, mode)
			if err != nil {
				return nil, nil, err
			}
			speeds = append(speeds, sp)

			if mode == model.SpeedSlow {
				eg, err := model.NewErrorNGram(window[0].SessionID, windowText(window), n, 1, model.OriginSpeed)
				if err != nil {
					return nil, nil, err
				}
				errs = append(errs, eg)
			}
			if window[n-1].IsError {
				eg, err := model.NewErrorNGram(window[0].SessionID, windowText(window), n, 1, model.OriginError)
				if err != nil {
					return nil, nil, err
				}
				errs = append(errs, eg)
			}
		}
	}
	return speeds, errs, nil
}

// windowDuration is last minus first timestamp; size-1 windows degrade
// to the keystroke's own inter-arrival time (0 for a track's first).
func windowDuration(window []model.Keystroke) int64 {
	if len(window) == 1 {
		if window[0].TimeSincePrevMs < 0 {
			return 0
		}
		return window[0].TimeSincePrevMs
	}
	return window[len(window)-1].PressedAt.Sub(window[0].PressedAt).Milliseconds()
}

// windowText is the window's expected characters; the expected text is
// the unit of measurement, not what was actually typed.
func windowText(window []model.Keystroke) string {
	var b strings.Builder
	for _, k := range window {
		b.WriteString(k.Expected)
	}
	return b.String()
}

func spansSessions(window []model.Keystroke) bool {
	for _, k := range window[1:] {
		if k.SessionID != window[0].SessionID {
			return true
		}
	}
	return false
}
