package domain

import (
	"sort"
	"time"
)

// NodeStats summarises one relay's history.
type NodeStats struct {
	Relay            string
	TotalChecks      int
	SuccessfulChecks int
	SuccessRate      float64
	ReliabilityScore float64
	Status           Status
	LastCheck        time.Time
	LastSuccess      *time.Time
}

// Statistics aggregates every relay of a (group, service) pair.
type Statistics struct {
	Group   string
	Service string

	TotalNodes       int
	TotalChecks      int
	SuccessfulChecks int
	SuccessRate      float64

	// nil when there is no history.
	MostReliableNode        *string
	HighestReliabilityScore *float64
	LastSuccessfulNode      *string

	// Nodes is ordered like Rankings.
	Nodes    []NodeStats
	Rankings []Ranking
}

// ServiceSummary is one line of Summary.
type ServiceSummary struct {
	Group                   string
	Service                 string
	TotalNodes              int
	TotalChecks             int
	SuccessRate             float64
	MostReliableNode        *string
	HighestReliabilityScore *float64
}

// Summary lists every (group, service) pair that has history.
type Summary struct {
	TotalServices int
	Services      []ServiceSummary
}

// ComputeStatistics builds the statistics of one (group, service) pair.
func ComputeStatistics(group, service string, records []NodeRecord) Statistics {
	stats := Statistics{
		Group:    group,
		Service:  service,
		Nodes:    []NodeStats{},
		Rankings: []Ranking{},
	}
	if len(records) == 0 {
		return stats
	}

	byRelay := make(map[string]NodeRecord, len(records))
	var lastSuccess *NodeRecord
	for i := range records {
		rec := records[i]
		stats.TotalChecks += rec.TotalChecks
		stats.SuccessfulChecks += rec.SuccessfulChecks
		byRelay[rec.RelayName] = rec

		if rec.LastAvailableTime != nil &&
			(lastSuccess == nil || rec.LastAvailableTime.After(*lastSuccess.LastAvailableTime)) {
			lastSuccess = &records[i]
		}
	}

	stats.TotalNodes = len(byRelay)
	if stats.TotalChecks > 0 {
		stats.SuccessRate = float64(stats.SuccessfulChecks) / float64(stats.TotalChecks)
	}

	stats.Rankings = RankByReliability(records)
	for _, r := range stats.Rankings {
		rec := byRelay[r.Relay]
		stats.Nodes = append(stats.Nodes, NodeStats{
			Relay:            rec.RelayName,
			TotalChecks:      rec.TotalChecks,
			SuccessfulChecks: rec.SuccessfulChecks,
			SuccessRate:      rec.SuccessRate(),
			ReliabilityScore: rec.ReliabilityScore,
			Status:           rec.Status,
			LastCheck:        rec.LastCheckTime,
			LastSuccess:      rec.LastAvailableTime,
		})
	}

	if len(stats.Rankings) > 0 {
		top := stats.Rankings[0]
		relay, score := top.Relay, top.ReliabilityScore
		stats.MostReliableNode = &relay
		stats.HighestReliabilityScore = &score
	}
	if lastSuccess != nil {
		relay := lastSuccess.RelayName
		stats.LastSuccessfulNode = &relay
	}

	return stats
}

// SummaryEntry is the input of BuildSummary for one stored key.
type SummaryEntry struct {
	Group   string
	Service string
	Records []NodeRecord
}

// BuildSummary aggregates every key, sorted by group then service. Keys
// without records are skipped.
func BuildSummary(entries []SummaryEntry) Summary {
	services := make([]ServiceSummary, 0, len(entries))
	for _, e := range entries {
		stats := ComputeStatistics(e.Group, e.Service, e.Records)
		if stats.TotalNodes == 0 {
			continue
		}
		services = append(services, ServiceSummary{
			Group:                   e.Group,
			Service:                 e.Service,
			TotalNodes:              stats.TotalNodes,
			TotalChecks:             stats.TotalChecks,
			SuccessRate:             stats.SuccessRate,
			MostReliableNode:        stats.MostReliableNode,
			HighestReliabilityScore: stats.HighestReliabilityScore,
		})
	}

	sort.SliceStable(services, func(i, j int) bool {
		if services[i].Group != services[j].Group {
			return services[i].Group < services[j].Group
		}
		return services[i].Service < services[j].Service
	})

	return Summary{
		TotalServices: len(services),
		Services:      services,
	}
}
