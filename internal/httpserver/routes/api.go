package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/relayswitch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/relayswitch/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/relayswitch/internal/httpserver/mw"
)

func init() { Register("api", registerAPI) }

func registerAPI(r chi.Router, d deps.Deps) {
	r.Route("/api", func(api chi.Router) {
		api.Use(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))

		api.Get("/summary", handlers.Summary(d))
		api.Get("/stats/{group}/{service}", handlers.Stats(d))
		api.Get("/history/{group}/{service}", handlers.History(d))
		api.Post("/recommend", handlers.Recommend(d))
		api.Post("/prune", handlers.Prune(d))
	})
}
