package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"banyanswarm/core"
	"banyanswarm/internal/apierr"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// statusRecorder captures the status code a handler wrote, so middleware
// wrapping it can log/count it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogger times and logs every request, using the server's own
// logger field instead of a package-level logrus call, and records a
// per-route request count if metrics are configured.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.Log.Infof("%s %s %d %s", r.Method, r.RequestURI, rec.status, time.Since(start))

		if s.Metrics != nil {
			route := r.URL.Path
			if rt := mux.CurrentRoute(r); rt != nil {
				if tmpl, err := rt.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			statusClass := strconv.Itoa(rec.status/100) + "xx"
			s.Metrics.HTTPRequests.WithLabelValues(route, statusClass).Inc()
		}
	})
}

type appIdKey struct{}

// AppIdFromContext returns the app id a bearer-authenticated request was
// granted, set by requireBearer.
func AppIdFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(appIdKey{}).(string)
	return v, ok
}

// requireBearer enforces the Bearer auth spec §6's table requires on every
// `/events/*` route: missing header, malformed scheme, and an invalid/
// expired/stale token each map onto the matching apierr code.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, apierr.New(apierr.ErrMissingAuth, "missing Authorization header"))
			return
		}
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeError(w, apierr.New(apierr.ErrUnsupportedAuth, "only Bearer authentication is supported"))
			return
		}
		tokenStr := strings.TrimPrefix(header, prefix)
		token, err := core.VerifyToken(s.NodePublic, tokenStr, time.Now(), s.CurrentCycle)
		if err != nil {
			switch err {
			case core.ErrTokenExpired:
				writeError(w, apierr.New(apierr.ErrTokenExpired, "token expired"))
			case core.ErrTokenStale:
				writeError(w, apierr.New(apierr.ErrInvalidToken, "token predates the current node cycle"))
			default:
				writeError(w, apierr.New(apierr.ErrInvalidToken, err.Error()))
			}
			return
		}
		ctx := context.WithValue(r.Context(), appIdKey{}, token.AppId)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
