// Package api provides the HTTP API and middleware for fawizard.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/faexperts/fawizard/internal/auth"
	"github.com/faexperts/fawizard/internal/billing"
	"github.com/faexperts/fawizard/internal/config"
	"github.com/faexperts/fawizard/internal/feed"
	"github.com/faexperts/fawizard/internal/registration"
	"github.com/faexperts/fawizard/internal/store"
	"github.com/faexperts/fawizard/internal/validate"
)

// Server is the HTTP API server.
type Server struct {
	store         store.Store
	authProvider  auth.Provider
	loginProvider auth.LoginProvider // nil unless the builtin provider is active
	billing       *billing.Service   // nil when billing is disabled
	registration  *registration.Service
	validator     *validate.Validator
	bus           *feed.Bus
	cfg           *config.Config
	logger        *slog.Logger
	mux           *chi.Mux
	startTime     time.Time
	loginRL       *rateLimiter
	rl            *rateLimiter
}

// NewServer creates a new API server. lp and bs may be nil.
func NewServer(s store.Store, ap auth.Provider, lp auth.LoginProvider, bs *billing.Service, reg *registration.Service, v *validate.Validator, bus *feed.Bus, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:         s,
		authProvider:  ap,
		loginProvider: lp,
		billing:       bs,
		registration:  reg,
		validator:     v,
		bus:           bus,
		cfg:           cfg,
		logger:        logger.With("component", "api"),
		startTime:     time.Now(),
		loginRL:       newRateLimiter(1, 5),
		rl:            newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)
	mux.Get("/api/auth/config", srv.handleAuthConfig)
	mux.Post("/api/auth/signout", srv.handleSignout)

	if lp != nil {
		mux.With(ipRateLimitMiddleware(srv.loginRL)).Post("/api/auth/magic-link", srv.handleMagicLink)
		mux.Get("/api/auth/callback", srv.handleAuthCallback)
	}

	if bs != nil {
		mux.Post("/api/webhooks/stripe", bs.HandleWebhook)
		mux.Get("/api/billing/plans", srv.handleListPlans)
		mux.With(srv.optionalAuthMiddleware).Post("/api/billing/create-checkout", srv.handleCreateCheckout)
	}

	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(profileRateLimitMiddleware(srv.rl))

		r.Get("/api/me", srv.handleGetMe)
		r.Get("/api/schools", srv.handleListSchools)
		r.Post("/api/schools", srv.handleRegisterSchool)
		r.Put("/api/schools/{schoolID}", srv.handleUpdateSchool)
		if bs != nil {
			r.Post("/api/billing/create-portal", srv.handleCreatePortal)
		}

		r.Group(func(r chi.Router) {
			r.Use(srv.adminMiddleware)
			r.Get("/api/admin/profiles", srv.handleAdminListProfiles)
			r.Put("/api/admin/profiles/{profileID}/admin", srv.handleAdminSetAdmin)
			r.Get("/api/admin/schools", srv.handleAdminListSchools)
			r.Put("/api/admin/schools/{schoolID}", srv.handleUpdateSchool)
			r.Get("/api/admin/contacts", srv.handleAdminListContacts)
			r.Put("/api/admin/contacts/{contactID}", srv.handleAdminUpdateContact)
			r.Delete("/api/admin/contacts/{contactID}", srv.handleAdminDeleteContact)
			r.Get("/ws/admin", srv.handleAdminFeed)
		})
	})

	if uiDir := cfg.Server.UIStaticDir; uiDir != "" {
		fileServer := http.FileServer(http.Dir(uiDir))
		mux.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Paths without an extension are client-side routes.
			if r.URL.Path != "/" && !strings.Contains(r.URL.Path, ".") {
				r.URL.Path = "/"
			}
			fileServer.ServeHTTP(w, r)
		}))
	}

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup of rate limiter buckets.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	go s.loginRL.run(ctx, 5*time.Minute, 10*time.Minute)
	go s.rl.run(ctx, 5*time.Minute, 10*time.Minute)
}

// --- Health handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, profileFromContext(r.Context()))
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body into dst.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeValidation answers a *validate.Error with 400 and reports true.
func writeValidation(w http.ResponseWriter, err error) bool {
	var verr *validate.Error
	if !errors.As(err, &verr) {
		return false
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  verr.Error(),
		"fields": verr.Fields,
	})
	return true
}
