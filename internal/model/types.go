// Package model defines shared data structures for the analytics engine.
package model

import "time"

// N-gram sizes accepted anywhere in the engine.
const (
	MinNgramSize = 1
	MaxNgramSize = 20
)

// DefaultTargetMs is the per-keystroke target used when a keyboard has
// no configured target speed.
const DefaultTargetMs int64 = 600

// Keystroke is a single immutable typing event. TimeSincePrevMs is
// relative to the previous keystroke in the same collection track and
// is -1 for the first keystroke of a track.
type Keystroke struct {
	SessionID       int64
	PressedAt       time.Time
	Typed           string
	Expected        string
	IsError         bool
	TextIndex       int
	KeyIndex        int
	TimeSincePrevMs int64
}

// NewKeystroke builds a keystroke event; the error flag is derived from
// the typed/expected pair at construction time.
func NewKeystroke(sessionID int64, pressedAt time.Time, typed, expected string, textIndex, keyIndex int) Keystroke {
	return Keystroke{
		SessionID:       sessionID,
		PressedAt:       pressedAt,
		Typed:           typed,
		Expected:        expected,
		IsError:         typed != expected,
		TextIndex:       textIndex,
		KeyIndex:        keyIndex,
		TimeSincePrevMs: -1,
	}
}

// IsBackspace reports whether the keystroke is a correction key.
func (k Keystroke) IsBackspace() bool {
	return k.Typed == "\b"
}

// Session identifies one completed typing session.
type Session struct {
	ID         int64
	UserID     int64
	KeyboardID int64
	StartedAt  time.Time
}

// Keyboard carries the configured typing target for one keyboard.
// TargetMsPerKeystroke is nil when the user never set one.
type Keyboard struct {
	ID                   int64
	UserID               int64
	Name                 string
	TargetMsPerKeystroke *int64
}

// TargetMs returns the configured target speed or the engine default.
func (k Keyboard) TargetMs() int64 {
	if k.TargetMsPerKeystroke == nil || *k.TargetMsPerKeystroke <= 0 {
		return DefaultTargetMs
	}
	return *k.TargetMsPerKeystroke
}
