package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/faexperts/fawizard/internal/auth"
	"github.com/faexperts/fawizard/internal/store"
)

type contextKey string

const profileKey contextKey = "profile"

// tokenFromRequest reads the session token from the Authorization header or
// the session cookie. WebSocket handshakes may also pass ?token=.
func (s *Server) tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	if c, err := r.Cookie(s.cfg.Auth.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if websocket.IsWebSocketUpgrade(r) {
		return r.URL.Query().Get("token")
	}
	return ""
}

// authenticate resolves the caller's stored profile. It returns nil when the
// request carries no valid credentials.
func (s *Server) authenticate(r *http.Request) (*store.Profile, error) {
	token := s.tokenFromRequest(r)
	if token == "" {
		return nil, nil
	}
	identity, err := s.authProvider.ValidateToken(r.Context(), token)
	if err != nil {
		return nil, nil
	}
	provision := s.authProvider.Name() == "jwks"
	return auth.ResolveProfile(r.Context(), s.store, s.cfg.Auth, identity, provision)
}

func withProfile(ctx context.Context, p *store.Profile) context.Context {
	return context.WithValue(ctx, profileKey, p)
}

// authMiddleware rejects requests without a valid session. Browsers asking
// for HTML are redirected to the sign-in page instead of getting a 401.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.authenticate(r)
		if err != nil {
			s.logger.Error("resolve caller profile", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load profile")
			return
		}
		if p == nil {
			s.unauthenticated(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(withProfile(r.Context(), p)))
	})
}

// optionalAuthMiddleware attaches the caller when credentials are present and
// lets anonymous requests through.
func (s *Server) optionalAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.authenticate(r)
		if err != nil {
			s.logger.Warn("resolve optional caller", "error", err)
		}
		if p != nil {
			r = r.WithContext(withProfile(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) unauthenticated(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth.LoginURL != "" && strings.Contains(r.Header.Get("Accept"), "text/html") {
		http.Redirect(w, r, s.cfg.Auth.LoginURL, http.StatusFound)
		return
	}
	writeError(w, http.StatusUnauthorized, "authentication required")
}

// adminMiddleware checks is_admin on the stored profile, never a token claim.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := profileFromContext(r.Context())
		if p == nil || !p.IsAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func profileFromContext(ctx context.Context) *store.Profile {
	p, _ := ctx.Value(profileKey).(*store.Profile)
	return p
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// originAllowed reports whether origin is in the configured list; "*" allows any.
func originAllowed(allowed []string, origin string) bool {
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func makeCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && originAllowed(allowedOrigins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Stripe-Signature")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
