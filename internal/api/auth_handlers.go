package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/faexperts/fawizard/internal/auth"
)

func (s *Server) handleAuthConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":        s.authProvider.Name(),
		"login_url":       s.cfg.Auth.LoginURL,
		"billing_enabled": s.billing != nil,
	})
}

func (s *Server) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	var req auth.MagicLinkRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.Struct(req); err != nil {
		if !writeValidation(w, err) {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	if err := s.loginProvider.RequestMagicLink(r.Context(), req); err != nil {
		s.logger.Error("magic link request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to send sign-in link")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// handleAuthCallback turns a mailed code into a session cookie. Every failure
// lands on the configured error page.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	login, err := s.loginProvider.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		s.logger.Warn("sign-in callback rejected", "error", err)
		http.Redirect(w, r, s.cfg.Auth.ErrorURL, http.StatusFound)
		return
	}

	s.setSessionCookie(w, login.Token, login.ExpiresAt)

	dest := auth.SafeNext(r.URL.Query().Get("next"))
	if dest == "" {
		dest = login.Next
	}
	if dest == "" {
		dest = s.cfg.Auth.CallbackURL
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

func (s *Server) handleSignout(w http.ResponseWriter, r *http.Request) {
	s.setSessionCookie(w, "", time.Unix(0, 0))
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

// setSessionCookie writes the session cookie; an empty token clears it.
func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	c := &http.Cookie{
		Name:     s.cfg.Auth.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   strings.HasPrefix(s.cfg.App.BaseURL, "https://"),
		SameSite: http.SameSiteLaxMode,
	}
	if token == "" {
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
}
