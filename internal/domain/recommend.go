package domain

import (
	"math"
	"sort"
)

const (
	// Weights of the combined score (reliability score vs success rate).
	WeightReliability = 0.7
	WeightSuccessRate = 0.3

	// Confidence boost applies only to relays with a success rate above
	// BoostMinSuccessRate and at least BoostMinChecks observations.
	BoostMinSuccessRate = 0.5
	BoostMinChecks      = 5
	BoostFullChecks     = 50.0
	BoostMax            = 0.1

	// ExplorationScore is the final score of a relay without history.
	ExplorationScore = 0.3
)

// Candidate is an available relay with its recommendation score.
type Candidate struct {
	Relay      string
	Index      int // position in the available list
	HasHistory bool
	Combined   float64
	Boost      float64
	FinalScore float64
}

// Ranking is a relay ordered by reliability.
type Ranking struct {
	Relay            string
	ReliabilityScore float64
	SuccessRate      float64
	TotalChecks      int
	Status           Status
}

// RankByReliability orders records by reliability score, highest first.
//
// Records are first ordered by most recent check; the score sort is stable so
// ties keep that order.
func RankByReliability(records []NodeRecord) []Ranking {
	ordered := make([]NodeRecord, len(records))
	copy(ordered, records)
	SortByLastCheck(ordered)

	rankings := make([]Ranking, 0, len(ordered))
	for _, rec := range ordered {
		rankings = append(rankings, Ranking{
			Relay:            rec.RelayName,
			ReliabilityScore: rec.ReliabilityScore,
			SuccessRate:      rec.SuccessRate(),
			TotalChecks:      rec.TotalChecks,
			Status:           rec.Status,
		})
	}

	sort.SliceStable(rankings, func(i, j int) bool {
		return rankings[i].ReliabilityScore > rankings[j].ReliabilityScore
	})
	return rankings
}

// FilterRankings keeps rankings scoring at least minScore, at most limit of
// them (limit <= 0 means no limit).
func FilterRankings(rankings []Ranking, minScore float64, limit int) []Ranking {
	out := make([]Ranking, 0, len(rankings))
	for _, r := range rankings {
		if r.ReliabilityScore < minScore {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// SortByLastCheck sorts records in place, most recent check first.
func SortByLastCheck(records []NodeRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LastCheckTime.After(records[j].LastCheckTime)
	})
}

// ScoreCandidates computes the final score of every available relay and
// returns them best first. Ties keep the order of available.
//
// Every stored record is ranked; a relay without one is scored as unexplored.
func ScoreCandidates(records []NodeRecord, available []string) []Candidate {
	if len(available) == 0 {
		return nil
	}

	known := make(map[string]Ranking, len(records))
	for _, r := range RankByReliability(records) {
		if _, dup := known[r.Relay]; !dup {
			known[r.Relay] = r
		}
	}

	candidates := make([]Candidate, 0, len(available))
	for i, relay := range available {
		c := Candidate{Relay: relay, Index: i}
		if r, ok := known[relay]; ok {
			c.HasHistory = true
			c.Combined = WeightReliability*r.ReliabilityScore + WeightSuccessRate*r.SuccessRate
			c.Boost = confidenceBoost(r.SuccessRate, r.TotalChecks)
			c.FinalScore = c.Combined + c.Boost
		} else {
			c.FinalScore = ExplorationScore
		}
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].FinalScore != candidates[j].FinalScore {
			return candidates[i].FinalScore > candidates[j].FinalScore
		}
		return candidates[i].Index < candidates[j].Index
	})
	return candidates
}

// Recommend picks the relay to switch to.
//
// It returns the best scored relay that is not current, or the best relay
// when every candidate is current. ok is false when available is empty.
func Recommend(records []NodeRecord, available []string, current string) (relay string, ok bool) {
	return Pick(ScoreCandidates(records, available), current)
}

// Pick applies the Recommend choice to candidates already sorted by
// ScoreCandidates.
func Pick(candidates []Candidate, current string) (relay string, ok bool) {
	if len(candidates) == 0 {
		return "", false
	}
	for _, c := range candidates {
		if c.Relay != current {
			return c.Relay, true
		}
	}
	return candidates[0].Relay, true
}

func confidenceBoost(successRate float64, totalChecks int) float64 {
	if successRate <= BoostMinSuccessRate || totalChecks < BoostMinChecks {
		return 0.0
	}
	dataConfidence := math.Min(float64(totalChecks)/BoostFullChecks, 1.0)
	performance := (successRate - BoostMinSuccessRate) * 2
	return dataConfidence * performance * BoostMax
}
