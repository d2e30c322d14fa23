// Package keystroke holds the in-memory ledger of one typing session.
package keystroke

import "github.com/verte-zerg/typedrill/internal/model"

// Collection tracks a session's keystrokes on two tracks: raw keeps
// every key pressed including backspaces, net keeps the corrected
// result after backspace application. Each track computes
// TimeSincePrevMs against its own previous element. One collection
// serves exactly one session and is not safe for concurrent use.
type Collection struct {
	raw []model.Keystroke
	net []model.Keystroke
}

// New returns an empty collection.
func New() *Collection {
	return &Collection{}
}

// Add records one keystroke. A backspace is appended to raw and pops
// the last net element (no-op when net is empty); anything else is
// appended to both tracks as independent copies.
func (c *Collection) Add(k model.Keystroke) {
	if k.IsBackspace() {
		c.raw = append(c.raw, withTiming(k, c.raw))
		if n := len(c.net); n > 0 {
			c.net = c.net[:n-1]
		}
		return
	}
	c.raw = append(c.raw, withTiming(k, c.raw))
	c.net = append(c.net, withTiming(k, c.net))
}

// Clear resets both tracks.
func (c *Collection) Clear() {
	c.raw = nil
	c.net = nil
}

// RawCount returns the number of raw keystrokes.
func (c *Collection) RawCount() int {
	return len(c.raw)
}

// NetCount returns the number of net keystrokes.
func (c *Collection) NetCount() int {
	return len(c.net)
}

// Raw returns a copy of the raw track.
func (c *Collection) Raw() []model.Keystroke {
	out := make([]model.Keystroke, len(c.raw))
	copy(out, c.raw)
	return out
}

// Net returns a copy of the net track.
func (c *Collection) Net() []model.Keystroke {
	out := make([]model.Keystroke, len(c.net))
	copy(out, c.net)
	return out
}

// withTiming copies the keystroke with TimeSincePrevMs computed against
// the track's current tail, -1 when the track is empty.
func withTiming(k model.Keystroke, track []model.Keystroke) model.Keystroke {
	if len(track) == 0 {
		k.TimeSincePrevMs = -1
		return k
	}
	prev := track[len(track)-1]
	k.TimeSincePrevMs = k.PressedAt.Sub(prev.PressedAt).Milliseconds()
	return k
}
