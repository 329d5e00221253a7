package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/MrSnakeDoc/relayswitch/internal/domain"
)

// Document maps Key(group, service) to the records of that pair.
type Document map[string][]domain.NodeRecord

// Records returns the records of a pair, nil when there are none.
func (d Document) Records(group, service string) []domain.NodeRecord {
	return d[Key(group, service)]
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, recs := range d {
		cp := make([]domain.NodeRecord, len(recs))
		for i, r := range recs {
			cp[i] = r
			if r.LastAvailableTime != nil {
				t := *r.LastAvailableTime
				cp[i].LastAvailableTime = &t
			}
		}
		out[k] = cp
	}
	return out
}

// Count returns the number of records across all keys.
func (d Document) Count() int {
	n := 0
	for _, recs := range d {
		n += len(recs)
	}
	return n
}

// wireRecord is the persisted shape of a record. Pointers mark fields that
// may be absent in files written by older versions.
type wireRecord struct {
	NodeName          *string  `json:"node_name"`
	ServiceName       *string  `json:"service_name"`
	ProxyGroup        *string  `json:"proxy_group"`
	LastAvailableTime *float64 `json:"last_available_time"`
	LastCheckTime     *float64 `json:"last_check_time"`
	Status            *string  `json:"status"`
	ReliabilityScore  *float64 `json:"reliability_score,omitempty"`
	TotalChecks       *int     `json:"total_checks,omitempty"`
	SuccessfulChecks  *int     `json:"successful_checks,omitempty"`
}

// Decode parses a persisted document.
//
// Unreadable input yields an empty document. Malformed records, and keys
// whose value is not a list, are skipped and counted in the second return
// value; the rest load normally.
func Decode(data []byte) (Document, int) {
	doc := Document{}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, 0
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return doc, 0
	}

	skipped := 0
	for key, value := range raw {
		var items []json.RawMessage
		if err := json.Unmarshal(value, &items); err != nil {
			skipped++
			continue
		}
		recs := make([]domain.NodeRecord, 0, len(items))
		for _, item := range items {
			rec, err := decodeRecord(item)
			if err != nil {
				skipped++
				continue
			}
			recs = append(recs, rec)
		}
		doc[key] = recs
	}
	return doc, skipped
}

func decodeRecord(item json.RawMessage) (domain.NodeRecord, error) {
	var w wireRecord
	if err := json.Unmarshal(item, &w); err != nil {
		return domain.NodeRecord{}, err
	}
	if w.NodeName == nil || w.ServiceName == nil || w.ProxyGroup == nil ||
		w.LastCheckTime == nil || w.Status == nil {
		return domain.NodeRecord{}, fmt.Errorf("record is missing required fields")
	}
	status := domain.Status(*w.Status)
	if !status.Valid() {
		return domain.NodeRecord{}, fmt.Errorf("unknown status %q", *w.Status)
	}
	if !validEpoch(*w.LastCheckTime) {
		return domain.NodeRecord{}, fmt.Errorf("last_check_time %v out of range", *w.LastCheckTime)
	}
	if w.LastAvailableTime != nil && !validEpoch(*w.LastAvailableTime) {
		return domain.NodeRecord{}, fmt.Errorf("last_available_time %v out of range", *w.LastAvailableTime)
	}

	rec := domain.NodeRecord{
		RelayName:     *w.NodeName,
		ServiceName:   *w.ServiceName,
		GroupName:     *w.ProxyGroup,
		Status:        status,
		LastCheckTime: fromEpoch(*w.LastCheckTime),
	}
	if w.LastAvailableTime != nil {
		t := fromEpoch(*w.LastAvailableTime)
		rec.LastAvailableTime = &t
	}
	if w.ReliabilityScore != nil && !math.IsNaN(*w.ReliabilityScore) {
		rec.ReliabilityScore = math.Max(0, math.Min(1, *w.ReliabilityScore))
	}
	if w.TotalChecks != nil && *w.TotalChecks > 0 {
		rec.TotalChecks = *w.TotalChecks
	}

	switch {
	case w.SuccessfulChecks != nil:
		rec.SuccessfulChecks = max(0, min(*w.SuccessfulChecks, rec.TotalChecks))
	case status == domain.StatusAvailable:
		// Older files carry no success counter; the latest status stands in
		// for the whole history.
		rec.SuccessfulChecks = rec.TotalChecks
	}

	return rec, nil
}

// Encode renders the document as indented JSON.
func Encode(doc Document) ([]byte, error) {
	out := make(map[string][]wireRecord, len(doc))
	for key, recs := range doc {
		items := make([]wireRecord, 0, len(recs))
		for _, rec := range recs {
			items = append(items, encodeRecord(rec))
		}
		out[key] = items
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("failed to encode history: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeRecord(rec domain.NodeRecord) wireRecord {
	name, service, group := rec.RelayName, rec.ServiceName, rec.GroupName
	status := string(rec.Status)
	lastCheck := toEpoch(rec.LastCheckTime)
	score, total, success := rec.ReliabilityScore, rec.TotalChecks, rec.SuccessfulChecks

	w := wireRecord{
		NodeName:         &name,
		ServiceName:      &service,
		ProxyGroup:       &group,
		LastCheckTime:    &lastCheck,
		Status:           &status,
		ReliabilityScore: &score,
		TotalChecks:      &total,
		SuccessfulChecks: &success,
	}
	if rec.LastAvailableTime != nil {
		v := toEpoch(*rec.LastAvailableTime)
		w.LastAvailableTime = &v
	}
	return w
}

// Timestamps are float epoch seconds with microsecond precision.
func toEpoch(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// maxEpoch is the last second of year 9999.
const maxEpoch = 253402300799.0

func validEpoch(sec float64) bool {
	return !math.IsNaN(sec) && !math.IsInf(sec, 0) && sec >= 0 && sec <= maxEpoch
}

func fromEpoch(sec float64) time.Time {
	return time.UnixMicro(int64(math.Round(sec * 1e6))).UTC()
}
