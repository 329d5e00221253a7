package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/relayswitch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/relayswitch/internal/logger"
)

const maxRecommendBody = 1 << 20

// Stats returns the statistics of /{group}/{service}.
func Stats(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group, service := chi.URLParam(r, "group"), chi.URLParam(r, "service")
		writeJSON(w, http.StatusOK, toStatisticsJSON(d.Engine.Statistics(r.Context(), group, service)))
	}
}

func Summary(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, toSummaryJSON(d.Engine.Summary(r.Context())))
	}
}

// History lists the records of /{group}/{service}, most recent check
// first, optionally narrowed with ?relay=.
func History(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group, service := chi.URLParam(r, "group"), chi.URLParam(r, "service")
		recs := d.Engine.History(r.Context(), group, service, r.URL.Query().Get("relay"))

		out := make([]recordJSON, 0, len(recs))
		for _, rec := range recs {
			out = append(out, toRecordJSON(rec))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type recommendRequest struct {
	Group     string   `json:"group"`
	Service   string   `json:"service"`
	Available []string `json:"available"`
	Current   string   `json:"current"`
}

type recommendResponse struct {
	Node       *string         `json:"node"`
	Candidates []candidateJSON `json:"candidates"`
}

// Recommend picks a relay among the posted available ones. node is null
// when available is empty.
func Recommend(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req recommendRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecommendBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if strings.TrimSpace(req.Group) == "" || strings.TrimSpace(req.Service) == "" {
			writeError(w, http.StatusBadRequest, "group and service are required")
			return
		}

		candidates, relay, ok := d.Engine.Advise(r.Context(), req.Group, req.Service, req.Available, req.Current)
		resp := recommendResponse{Candidates: toCandidatesJSON(candidates)}
		if ok {
			resp.Node = &relay
		}

		d.Logger.Debug("recommendation served",
			logger.String("group", req.Group),
			logger.String("service", req.Service),
			logger.Int("available", len(req.Available)))
		writeJSON(w, http.StatusOK, resp)
	}
}

// Prune requests a history prune: 202 when queued, 429 when one is pending.
func Prune(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.PruneTrigger == nil {
			writeError(w, http.StatusServiceUnavailable, "pruning is not scheduled")
			return
		}
		if !d.PruneTrigger() {
			d.Logger.Warn("prune already pending", logger.String("remote_ip", r.RemoteAddr))
			writeError(w, http.StatusTooManyRequests, "prune already pending, please wait")
			return
		}
		d.Logger.Info("manual prune triggered via endpoint", logger.String("remote_ip", r.RemoteAddr))
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "prune triggered"})
	}
}
