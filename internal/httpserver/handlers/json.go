package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/relayswitch/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

type recordJSON struct {
	Relay             string     `json:"node_name"`
	Service           string     `json:"service_name"`
	Group             string     `json:"proxy_group"`
	Status            string     `json:"status"`
	ReliabilityScore  float64    `json:"reliability_score"`
	TotalChecks       int        `json:"total_checks"`
	SuccessfulChecks  int        `json:"successful_checks"`
	SuccessRate       float64    `json:"success_rate"`
	LastCheckTime     time.Time  `json:"last_check_time"`
	LastAvailableTime *time.Time `json:"last_available_time"`
}

func toRecordJSON(r domain.NodeRecord) recordJSON {
	return recordJSON{
		Relay:             r.RelayName,
		Service:           r.ServiceName,
		Group:             r.GroupName,
		Status:            string(r.Status),
		ReliabilityScore:  r.ReliabilityScore,
		TotalChecks:       r.TotalChecks,
		SuccessfulChecks:  r.SuccessfulChecks,
		SuccessRate:       r.SuccessRate(),
		LastCheckTime:     r.LastCheckTime,
		LastAvailableTime: r.LastAvailableTime,
	}
}

type rankingJSON struct {
	Relay            string  `json:"node"`
	ReliabilityScore float64 `json:"reliability_score"`
	SuccessRate      float64 `json:"success_rate"`
	TotalChecks      int     `json:"total_checks"`
	Status           string  `json:"status"`
}

type nodeStatsJSON struct {
	Relay            string     `json:"node"`
	TotalChecks      int        `json:"total_checks"`
	SuccessfulChecks int        `json:"successful_checks"`
	SuccessRate      float64    `json:"success_rate"`
	ReliabilityScore float64    `json:"reliability_score"`
	Status           string     `json:"status"`
	LastCheck        time.Time  `json:"last_check"`
	LastSuccess      *time.Time `json:"last_success"`
}

type statisticsJSON struct {
	Group                   string          `json:"proxy_group"`
	Service                 string          `json:"service_name"`
	TotalNodes              int             `json:"total_nodes"`
	TotalChecks             int             `json:"total_checks"`
	SuccessfulChecks        int             `json:"successful_checks"`
	SuccessRate             float64         `json:"success_rate"`
	MostReliableNode        *string         `json:"most_reliable_node"`
	HighestReliabilityScore *float64        `json:"highest_reliability_score"`
	LastSuccessfulNode      *string         `json:"last_successful_node"`
	Nodes                   []nodeStatsJSON `json:"node_stats"`
	Rankings                []rankingJSON   `json:"reliability_rankings"`
}

func toStatisticsJSON(s domain.Statistics) statisticsJSON {
	out := statisticsJSON{
		Group:                   s.Group,
		Service:                 s.Service,
		TotalNodes:              s.TotalNodes,
		TotalChecks:             s.TotalChecks,
		SuccessfulChecks:        s.SuccessfulChecks,
		SuccessRate:             s.SuccessRate,
		MostReliableNode:        s.MostReliableNode,
		HighestReliabilityScore: s.HighestReliabilityScore,
		LastSuccessfulNode:      s.LastSuccessfulNode,
		Nodes:                   make([]nodeStatsJSON, 0, len(s.Nodes)),
		Rankings:                make([]rankingJSON, 0, len(s.Rankings)),
	}
	for _, n := range s.Nodes {
		out.Nodes = append(out.Nodes, nodeStatsJSON{
			Relay:            n.Relay,
			TotalChecks:      n.TotalChecks,
			SuccessfulChecks: n.SuccessfulChecks,
			SuccessRate:      n.SuccessRate,
			ReliabilityScore: n.ReliabilityScore,
			Status:           string(n.Status),
			LastCheck:        n.LastCheck,
			LastSuccess:      n.LastSuccess,
		})
	}
	for _, r := range s.Rankings {
		out.Rankings = append(out.Rankings, rankingJSON{
			Relay:            r.Relay,
			ReliabilityScore: r.ReliabilityScore,
			SuccessRate:      r.SuccessRate,
			TotalChecks:      r.TotalChecks,
			Status:           string(r.Status),
		})
	}
	return out
}

type serviceSummaryJSON struct {
	Group                   string   `json:"proxy_group"`
	Service                 string   `json:"service_name"`
	TotalNodes              int      `json:"total_nodes"`
	TotalChecks             int      `json:"total_checks"`
	SuccessRate             float64  `json:"success_rate"`
	MostReliableNode        *string  `json:"most_reliable_node"`
	HighestReliabilityScore *float64 `json:"highest_reliability_score"`
}

type summaryJSON struct {
	TotalServices int                  `json:"total_services"`
	Services      []serviceSummaryJSON `json:"services"`
}

func toSummaryJSON(s domain.Summary) summaryJSON {
	out := summaryJSON{
		TotalServices: s.TotalServices,
		Services:      make([]serviceSummaryJSON, 0, len(s.Services)),
	}
	for _, svc := range s.Services {
		out.Services = append(out.Services, serviceSummaryJSON{
			Group:                   svc.Group,
			Service:                 svc.Service,
			TotalNodes:              svc.TotalNodes,
			TotalChecks:             svc.TotalChecks,
			SuccessRate:             svc.SuccessRate,
			MostReliableNode:        svc.MostReliableNode,
			HighestReliabilityScore: svc.HighestReliabilityScore,
		})
	}
	return out
}

type candidateJSON struct {
	Relay      string  `json:"node"`
	HasHistory bool    `json:"has_history"`
	Combined   float64 `json:"combined_score"`
	Boost      float64 `json:"confidence_boost"`
	FinalScore float64 `json:"final_score"`
}

func toCandidatesJSON(cs []domain.Candidate) []candidateJSON {
	out := make([]candidateJSON, 0, len(cs))
	for _, c := range cs {
		out = append(out, candidateJSON{
			Relay:      c.Relay,
			HasHistory: c.HasHistory,
			Combined:   c.Combined,
			Boost:      c.Boost,
			FinalScore: c.FinalScore,
		})
	}
	return out
}
