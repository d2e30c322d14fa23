// Package stats contains the pure numeric core of the analytics engine.
package stats

import "math"

// Defaults for recency-weighted averaging.
const (
	DefaultDecayFactor = 0.9
	DefaultMaxSamples  = 20
)

// Sample is one observation with its recency rank; rank 0 is the most
// recent observation.
type Sample struct {
	Value float64
	Rank  int
}

// DecayingAverage computes the recency-weighted average of the samples.
// Each sample is weighted by factor^rank and only the maxSamples most
// recent ranks participate. The second return is false when no sample
// qualifies; callers must treat that as "no data" rather than zero.
func DecayingAverage(samples []Sample, factor float64, maxSamples int) (float64, bool) {
	var weightedSum, weightTotal float64
	for _, s := range samples {
		if s.Rank < 0 || (maxSamples > 0 && s.Rank >= maxSamples) {
			continue
		}
		w := math.Pow(factor, float64(s.Rank))
		weightedSum += s.Value * w
		weightTotal += w
	}
	if weightTotal == 0 {
		return 0, false
	}
	return weightedSum / weightTotal, true
}

// Observation is one per-session measurement for day-based weighting:
// the session's average speed for an n-gram, how many instances backed
// it, and how many wall-clock days before the most recent contributing
// session it was recorded.
type Observation struct {
	AvgMs     float64
	Instances int
	DaysAgo   float64
}

// DayWeightedAverage computes the refresher's decaying average. Unlike
// DecayingAverage the decay axis is elapsed days, not ordinal rank, and
// each observation additionally carries its instance count as weight.
func DayWeightedAverage(obs []Observation, factor float64) (float64, bool) {
	var weightedSum, weightTotal float64
	for _, o := range obs {
		if o.Instances <= 0 || o.DaysAgo < 0 {
			continue
		}
		w := float64(o.Instances) * math.Pow(factor, o.DaysAgo)
		weightedSum += o.AvgMs * w
		weightTotal += w
	}
	if weightTotal == 0 {
		return 0, false
	}
	return weightedSum / weightTotal, true
}

// TargetPerformancePct is the percentage of the target speed achieved;
// 100 means the decaying average exactly meets the target, above 100
// beats it. Zero average yields 0.
func TargetPerformancePct(targetMs int64, avgMs float64) float64 {
	if avgMs == 0 {
		return 0
	}
	return 100 * float64(targetMs) / avgMs
}

// MeetsTarget reports whether the decaying average is at or under the
// target speed.
func MeetsTarget(targetMs int64, avgMs float64) bool {
	return avgMs <= float64(targetMs)
}
