package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Router builds the full /api/v2 HTTP surface: gorilla/mux for the named
// routes, with the chi admin sub-router mounted under /admin for the
// supplemental settings endpoints. Every route except /auth and /metrics
// requires a bearer token.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestLogger)

	r.HandleFunc("/api/v2/auth", s.handleAuth).Methods(http.MethodPost)

	events := r.PathPrefix("/api/v2/events").Subrouter()
	events.Use(s.requireBearer)
	events.HandleFunc("/offsets", s.handleOffsets).Methods(http.MethodGet)
	events.HandleFunc("/publish", s.handlePublish).Methods(http.MethodPost)
	events.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost)
	events.HandleFunc("/subscribe", s.handleSubscribe).Methods(http.MethodPost)
	events.HandleFunc("/subscribe_monotonic", s.handleSubscribeMonotonic).Methods(http.MethodPost)

	admin := r.PathPrefix("/api/v2/admin").Subrouter()
	admin.Use(s.requireBearer)
	admin.PathPrefix("/").Handler(http.StripPrefix("/api/v2/admin", s.adminRouter()))

	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler()).Methods(http.MethodGet)
	}

	return r
}
