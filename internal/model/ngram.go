package model

import "fmt"

// SpeedMode classifies an n-gram duration against the target ladder.
type SpeedMode string

// Speed classifications.
const (
	SpeedFast   SpeedMode = "fast"
	SpeedNormal SpeedMode = "normal"
	SpeedSlow   SpeedMode = "slow"
)

// ErrorOrigin tags which extraction path produced an error n-gram:
// OriginSpeed for a window classified slow, OriginError for a mistype.
type ErrorOrigin string

// Error origins.
const (
	OriginSpeed ErrorOrigin = "speed"
	OriginError ErrorOrigin = "error"
)

// SpeedNGram is one timed character window from a session.
type SpeedNGram struct {
	SessionID  int64
	Text       string
	Size       int
	DurationMs int64
	Mode       SpeedMode
}

// NewSpeedNGram validates and builds a speed n-gram.
func NewSpeedNGram(sessionID int64, text string, size int, durationMs int64, mode SpeedMode) (SpeedNGram, error) {
	if err := validateNgram(text, size); err != nil {
		return SpeedNGram{}, err
	}
	if durationMs < 0 {
		return SpeedNGram{}, fmt.Errorf("%w: negative duration %d", ErrInvalidArgument, durationMs)
	}
	switch mode {
	case SpeedFast, SpeedNormal, SpeedSlow:
	default:
		return SpeedNGram{}, fmt.Errorf("%w: unknown speed mode %q", ErrInvalidArgument, mode)
	}
	return SpeedNGram{SessionID: sessionID, Text: text, Size: size, DurationMs: durationMs, Mode: mode}, nil
}

// ErrorNGram is one problem character window from a session, either a
// mistype or a slow-classified window.
type ErrorNGram struct {
	SessionID int64
	Text      string
	Size      int
	Count     int
	Origin    ErrorOrigin
}

// NewErrorNGram validates and builds an error n-gram.
func NewErrorNGram(sessionID int64, text string, size, count int, origin ErrorOrigin) (ErrorNGram, error) {
	if err := validateNgram(text, size); err != nil {
		return ErrorNGram{}, err
	}
	if count < 0 {
		return ErrorNGram{}, fmt.Errorf("%w: negative error count %d", ErrInvalidArgument, count)
	}
	switch origin {
	case OriginSpeed, OriginError:
	default:
		return ErrorNGram{}, fmt.Errorf("%w: unknown error origin %q", ErrInvalidArgument, origin)
	}
	return ErrorNGram{SessionID: sessionID, Text: text, Size: size, Count: count, Origin: origin}, nil
}

func validateNgram(text string, size int) error {
	if text == "" {
		return fmt.Errorf("%w: empty n-gram text", ErrInvalidArgument)
	}
	if size < MinNgramSize || size > MaxNgramSize {
		return fmt.Errorf("%w: n-gram size %d outside %d-%d", ErrInvalidArgument, size, MinNgramSize, MaxNgramSize)
	}
	return nil
}
