package domain

import "time"

// Status is the result of the most recent observation of a relay.
type Status string

const (
	StatusAvailable Status = "available"
	StatusFailed    Status = "failed"
	StatusUnknown   Status = "unknown"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusFailed, StatusUnknown:
		return true
	default:
		return false
	}
}

// StatusOf maps an observation outcome to a status.
func StatusOf(success bool) Status {
	if success {
		return StatusAvailable
	}
	return StatusFailed
}

// NodeRecord is the reliability history of one relay for one
// (group, service) pair.
//
// There is at most one record per (GroupName, ServiceName, RelayName)
// triple; observations mutate it in place.
type NodeRecord struct {
	// ─────────────────────────────
	// Identity
	// ─────────────────────────────

	// RelayName is the relay identifier, opaque to the engine.
	RelayName string

	// ServiceName is the probed service (ex: netflix).
	ServiceName string

	// GroupName is the relay-group the relay belongs to.
	GroupName string

	// ─────────────────────────────
	// Observation history
	// ─────────────────────────────

	// ReliabilityScore is the smoothed trust estimate, always in [0, 1].
	ReliabilityScore float64

	// TotalChecks counts every observation folded into the record.
	TotalChecks int

	// SuccessfulChecks counts the successful ones. Never above TotalChecks.
	SuccessfulChecks int

	// Status is the outcome of the most recent observation.
	Status Status

	// LastCheckTime is the time of the most recent observation.
	LastCheckTime time.Time

	// LastAvailableTime is the time of the most recent successful
	// observation, nil if the relay never succeeded.
	LastAvailableTime *time.Time
}

// SuccessRate is the fraction of successful observations.
//
// Records without any counted observation fall back to the latest status.
func (r NodeRecord) SuccessRate() float64 {
	if r.TotalChecks <= 0 {
		if r.Status == StatusAvailable {
			return 1.0
		}
		return 0.0
	}
	rate := float64(r.SuccessfulChecks) / float64(r.TotalChecks)
	return clamp01(rate)
}

// Observation is a single success/failure result for a relay.
type Observation struct {
	Relay   string
	Service string
	Group   string
	Success bool
	// At is the observation time; zero means now.
	At time.Time
}

// NewRecord creates the record for the first observation of a triple.
func NewRecord(group, service, relay string, success bool, at time.Time) NodeRecord {
	rec := NodeRecord{
		RelayName:        relay,
		ServiceName:      service,
		GroupName:        group,
		ReliabilityScore: SeedScore(success),
		TotalChecks:      1,
		Status:           StatusOf(success),
		LastCheckTime:    at,
	}
	if success {
		rec.SuccessfulChecks = 1
		t := at
		rec.LastAvailableTime = &t
	}
	return rec
}

// ApplyObservation folds one more observation into an existing record.
func ApplyObservation(rec *NodeRecord, success bool, at time.Time) {
	since := at.Sub(rec.LastCheckTime)
	rec.ReliabilityScore = UpdateScore(rec.ReliabilityScore, rec.TotalChecks, success, since)
	rec.TotalChecks++
	// Out-of-order observations never move the clocks backwards and leave
	// the status of the latest one in place.
	if !at.Before(rec.LastCheckTime) {
		rec.Status = StatusOf(success)
		rec.LastCheckTime = at
	}
	if success {
		rec.SuccessfulChecks++
		if rec.LastAvailableTime == nil || at.After(*rec.LastAvailableTime) {
			t := at
			rec.LastAvailableTime = &t
		}
	}
	if rec.SuccessfulChecks > rec.TotalChecks {
		rec.SuccessfulChecks = rec.TotalChecks
	}
}
