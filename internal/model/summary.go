package model

import (
	"fmt"
	"time"
)

// SessionNgramSummary is one aggregated row per (session, n-gram text).
type SessionNgramSummary struct {
	SessionID     int64
	Ngram         string
	Size          int
	InstanceCount int
	AvgSpeedMs    float64
	ErrorCount    int
}

// NgramSpeedSummary is the current-state row per (user, keyboard,
// n-gram). It carries no temporal columns beyond the refresh timestamp;
// history lives in NgramSpeedSummaryHistory.
type NgramSpeedSummary struct {
	UserID        int64
	KeyboardID    int64
	Ngram         string
	Size          int
	DecayingAvgMs float64
	TargetMs      int64
	TargetPct     float64
	MeetsTarget   bool
	SampleCount   int
	UpdatedAt     time.Time
}

// NgramSpeedSummaryHistory is one append-only measurement row.
type NgramSpeedSummaryHistory struct {
	ID            int64
	UserID        int64
	KeyboardID    int64
	Ngram         string
	Size          int
	DecayingAvgMs float64
	TargetMs      int64
	TargetPct     float64
	MeetsTarget   bool
	SampleCount   int
	RecordedAt    time.Time
}

// HeatmapTint buckets a summary row by percentage of target achieved.
type HeatmapTint string

// Heatmap buckets: green meets the target, amber is within reach,
// grey is below 75% of target.
const (
	TintGreen HeatmapTint = "green"
	TintAmber HeatmapTint = "amber"
	TintGrey  HeatmapTint = "grey"
)

// TintFor maps a target percentage to its heatmap bucket.
func TintFor(targetPct float64) HeatmapTint {
	switch {
	case targetPct >= 100:
		return TintGreen
	case targetPct >= 75:
		return TintAmber
	default:
		return TintGrey
	}
}

// HeatmapEntry is one summary row tagged with its heatmap bucket.
type HeatmapEntry struct {
	NgramSpeedSummary
	Tint HeatmapTint
}

// NgramErrorCount is one aggregated error row for error-prone queries.
type NgramErrorCount struct {
	Ngram      string
	Size       int
	ErrorCount int
}

// NgramComparison is the delta between the two most recent history rows
// of one n-gram.
type NgramComparison struct {
	Ngram         string
	Size          int
	LatestAvgMs   float64
	PreviousAvgMs float64
	DeltaMs       float64
	RecordedAt    time.Time
}

// SummaryFilter narrows analytics queries. Zero values mean "no filter".
type SummaryFilter struct {
	Size             int    // exact n-gram size, 0 = all
	IncludedChars    string // whitelist; n-grams must use only these characters
	MinSampleCount   int
	MissedTargetOnly bool
}

// Validate rejects malformed filter arguments.
func (f SummaryFilter) Validate() error {
	if f.Size != 0 && (f.Size < MinNgramSize || f.Size > MaxNgramSize) {
		return fmt.Errorf("%w: size filter %d outside %d-%d", ErrInvalidArgument, f.Size, MinNgramSize, MaxNgramSize)
	}
	if f.MinSampleCount < 0 {
		return fmt.Errorf("%w: negative min sample count %d", ErrInvalidArgument, f.MinSampleCount)
	}
	return nil
}
