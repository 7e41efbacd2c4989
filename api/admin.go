package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"banyanswarm/internal/apierr"
)

// adminRouter builds the supplemental admin-over-HTTP sub-router mounted
// under /api/v2/admin: a convenience mirror of the peer RPC surface's
// settings/node-info endpoints (spec §4.K), exposed over HTTP for tooling
// that would rather not speak the libp2p admin protocol directly. Unlike a
// typical CLI-facing chi router, this sub-router requires the same bearer
// auth as the rest of /api/v2.
func (s *Server) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/settings/{scope}", s.handleSettingsGet)
	r.Put("/settings/{scope}", s.handleSettingsSet)
	r.Delete("/settings/{scope}", s.handleSettingsUnset)
	r.Get("/settings/{scope}/schema", s.handleSettingsSchema)
	r.Get("/settings", s.handleSettingsScopes)
	return r
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	value, ok, err := s.Settings.Get(scope)
	if err != nil {
		writeError(w, apierr.New(apierr.ErrInternal, err.Error()))
		return
	}
	if !ok {
		writeError(w, apierr.New(apierr.ErrNotFound, "no setting at scope "+scope))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(value)
}

func (s *Server) handleSettingsSet(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apierr.New(apierr.ErrBadRequest, "reading body: "+err.Error()))
		return
	}
	if err := s.Settings.Set(scope, body); err != nil {
		writeError(w, apierr.New(apierr.ErrBadRequest, err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSettingsUnset(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	if err := s.Settings.Unset(scope); err != nil {
		writeError(w, apierr.New(apierr.ErrBadRequest, err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSettingsSchema(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	schema, err := s.Settings.Schema(scope)
	if err != nil {
		writeError(w, apierr.New(apierr.ErrNotFound, err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(schema)
}

func (s *Server) handleSettingsScopes(w http.ResponseWriter, r *http.Request) {
	scopes, err := s.Settings.Scopes()
	if err != nil {
		writeError(w, apierr.New(apierr.ErrInternal, err.Error()))
		return
	}
	writeJSON(w, scopes)
}
