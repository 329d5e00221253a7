package mw

import (
	"net/http"

	"github.com/MrSnakeDoc/relayswitch/internal/logger"
	"github.com/MrSnakeDoc/relayswitch/internal/utils"
)

// AllowOnlyCIDRS rejects clients outside allowed with 403. An empty list
// lets everything through.
func AllowOnlyCIDRS(allowed []string, trustProxy bool, log logger.Logger) func(http.Handler) http.Handler {
	m, invalid := utils.NewIPMatcher(allowed)
	if len(invalid) > 0 {
		log.Warn("ignoring invalid allowed CIDRs", logger.Strings("entries", invalid))
	}
	if m.IsEmpty() {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ClientIP(r, trustProxy)
			if !m.Allow(ip) {
				log.Debug("client rejected",
					logger.String("ip", ip),
					logger.String("path", r.URL.Path))
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
