package routes

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/relayswitch/internal/httpserver/deps"
)

type (
	Registrar  func(r chi.Router, d deps.Deps)
	Middleware = func(http.Handler) http.Handler
)

type entry struct {
	name string
	reg  Registrar
	mws  []Middleware
}

var registry = map[string]entry{}

// Register a named registrar with optional middlewares applied to all of its
// routes. Registering a name twice panics.
func Register(name string, reg Registrar, mws ...Middleware) {
	if _, dup := registry[name]; dup {
		panic("routes: duplicate registrar " + name)
	}
	registry[name] = entry{name: name, reg: reg, mws: mws}
}

// Names lists the registrars in registration order of RegisterAll.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterAll mounts every registrar on r, sorted by name.
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, name := range Names() {
		e := registry[name]
		if len(e.mws) == 0 {
			e.reg(r, d)
			continue
		}
		e.reg(r.With(e.mws...), d)
	}
}
