package domain

import (
	"math"
	"time"
)

const (
	// Seed scores for a relay's very first observation.
	SeedScoreSuccess = 0.5
	SeedScoreFailure = 0.1

	// BaseLearningRate is the success step before recency and experience damping.
	BaseLearningRate = 0.1

	// Failure penalty is FailurePenaltyBase + FailurePenaltyRecency*timeFactor,
	// so between 30% (very old data) and 50% (fresh data).
	FailurePenaltyBase    = 0.3
	FailurePenaltyRecency = 0.2

	minHoursSinceLast = 0.01
)

// SeedScore returns the initial score of a brand-new record.
func SeedScore(success bool) float64 {
	if success {
		return SeedScoreSuccess
	}
	return SeedScoreFailure
}

// TimeFactor weakens the influence of observations that follow a long gap.
// It is 1/(1 + hours*0.1) with hours floored at 0.01.
func TimeFactor(sinceLast time.Duration) float64 {
	hours := math.Max(sinceLast.Seconds()/3600.0, minHoursSinceLast)
	return 1.0 / (1.0 + hours*0.1)
}

// UpdateScore computes the next reliability score of a relay.
//
// Success moves the score toward 1.0 with a learning rate that shrinks with
// experience and with the gap since the previous check. Failure applies an
// immediate multiplicative penalty of 30% to 50%.
func UpdateScore(current float64, totalChecks int, success bool, sinceLast time.Duration) float64 {
	if math.IsNaN(current) {
		current = 0
	}
	current = clamp01(current)
	if totalChecks < 0 {
		totalChecks = 0
	}

	timeFactor := TimeFactor(sinceLast)
	rate := BaseLearningRate * timeFactor / (1.0 + float64(totalChecks)*0.01)

	var next float64
	if success {
		next = current + rate*(1.0-current)
	} else {
		penalty := FailurePenaltyBase + FailurePenaltyRecency*timeFactor
		next = current * (1.0 - penalty)
	}

	return clamp01(next)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0.0, math.Min(1.0, v))
}
