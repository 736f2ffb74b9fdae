// Package server exposes forms and editing sessions over HTTP.
package server

import (
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tbxark/formpilot/auth"
	"github.com/tbxark/formpilot/metrics"
	"github.com/tbxark/formpilot/patch"
	"github.com/tbxark/formpilot/provider"
	"github.com/tbxark/formpilot/session"
	"github.com/tbxark/formpilot/store"
)

// Deps are the collaborators the server routes to. Syncer and Google are
// optional; their routes answer 501 without them.
type Deps struct {
	Forms          store.FormStore
	Sessions       *session.Manager
	Editor         *patch.Editor
	Verifier       auth.Verifier
	Syncer         *provider.Syncer
	Google         *provider.Google
	AllowedOrigins []string
}

type Server struct {
	deps Deps
}

func New(deps Deps) (*Server, error) {
	if deps.Forms == nil || deps.Sessions == nil || deps.Verifier == nil {
		return nil, errors.New("forms, sessions and verifier are required")
	}
	if deps.Editor == nil {
		deps.Editor = patch.NewEditor(deps.Forms, patch.WithLocks(deps.Sessions.Locks()))
	}
	return &Server{deps: deps}, nil
}

func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(s.corsMiddleware)
	router.Use(s.metricsMiddleware)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Handle("/metrics", metrics.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(s.deps.Verifier, func(w http.ResponseWriter, r *http.Request, err error) {
			respondError(w, err)
		}))
		r.Route("/forms", func(r chi.Router) {
			r.Get("/", s.handleListForms)
			r.Post("/edit", s.handleEditStream)
			r.Get("/{formID}", s.handleGetForm)
			r.Post("/{formID}", s.handleCreateForm)
			r.Patch("/{formID}", s.handlePatchForm)
			r.Delete("/{formID}", s.handleDeleteForm)
			r.Post("/{formID}/sync", s.handleSyncForm)
		})
		r.Route("/integrations/google", func(r chi.Router) {
			r.Get("/auth-url", s.handleGoogleAuthURL)
			r.Post("/exchange", s.handleGoogleExchange)
		})
	})
	return router
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && len(s.deps.AllowedOrigins) > 0 {
			if slices.Contains(s.deps.AllowedOrigins, "*") || slices.Contains(s.deps.AllowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, If-Match")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Expose-Headers", "ETag")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = r.Method + " " + rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}
