package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/relayswitch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/relayswitch/internal/logger"
)

type readyzResponse struct {
	Ready       bool   `json:"ready"`
	Backend     string `json:"backend,omitempty"`
	HistorySize int64  `json:"history_bytes"`
	Error       string `json:"error,omitempty"`
}

// Readyz reports whether the history backend answers.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Backend == nil {
			writeJSON(w, http.StatusServiceUnavailable, readyzResponse{Error: "no history backend"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()

		size, err := d.Backend.Size(ctx)
		if err != nil {
			d.Logger.Warn("history backend not ready",
				logger.String("backend", d.Backend.Name()),
				logger.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, readyzResponse{
				Backend: d.Backend.Name(),
				Error:   err.Error(),
			})
			return
		}

		writeJSON(w, http.StatusOK, readyzResponse{
			Ready:       true,
			Backend:     d.Backend.Name(),
			HistorySize: size,
		})
	}
}
