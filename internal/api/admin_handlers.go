package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/faexperts/fawizard/internal/feed"
	"github.com/faexperts/fawizard/internal/registration"
	"github.com/faexperts/fawizard/internal/store"
)

func (s *Server) handleAdminListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.ListProfiles(r.Context())
	if err != nil {
		s.logger.Error("list profiles failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list profiles")
		return
	}
	if profiles == nil {
		profiles = []store.ProfileSummary{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleAdminSetAdmin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsAdmin *bool `json:"is_admin" validate:"required"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.Struct(req); err != nil {
		if !writeValidation(w, err) {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	id := chi.URLParam(r, "profileID")
	if err := s.store.SetProfileAdmin(r.Context(), id, *req.IsAdmin); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		s.logger.Error("set admin failed", "profile_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	by := profileFromContext(r.Context()).ID
	s.logger.Info("admin flag changed", "profile_id", id, "is_admin", *req.IsAdmin, "by", by)
	s.bus.PublishType(feed.ProfileAdmin, map[string]any{"profile_id": id, "is_admin": *req.IsAdmin, "by": by})
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_admin": *req.IsAdmin})
}

func (s *Server) handleAdminListSchools(w http.ResponseWriter, r *http.Request) {
	schools, err := s.store.ListSchools(r.Context())
	if err != nil {
		s.logger.Error("list schools failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list schools")
		return
	}
	if schools == nil {
		schools = []store.School{}
	}
	writeJSON(w, http.StatusOK, schools)
}

func (s *Server) handleAdminListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.store.ListContacts(r.Context())
	if err != nil {
		s.logger.Error("list contacts failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}
	if contacts == nil {
		contacts = []store.Contact{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleAdminUpdateContact(w http.ResponseWriter, r *http.Request) {
	var form registration.ContactForm
	if !s.decodeJSON(w, r, &form) {
		return
	}
	c, err := s.registration.UpdateContact(r.Context(), chi.URLParam(r, "contactID"), form)
	if err != nil {
		s.writeRegistrationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleAdminDeleteContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "contactID")
	if err := s.registration.DeleteContact(r.Context(), id, profileFromContext(r.Context()).ID); err != nil {
		s.writeRegistrationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Live feed ---

const (
	feedWriteWait  = 10 * time.Second
	feedPingPeriod = 30 * time.Second
	feedMaxMessage = 512
)

func (s *Server) feedUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(s.cfg.Server.AllowedOrigins, origin)
		},
	}
}

// handleAdminFeed streams feed events to an admin over a WebSocket. An
// optional ?types=a,b query narrows the stream.
func (s *Server) handleAdminFeed(w http.ResponseWriter, r *http.Request) {
	var types []string
	if v := r.URL.Query().Get("types"); v != "" {
		types = strings.Split(v, ",")
	}

	conn, err := s.feedUpgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("admin feed upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	events := s.bus.Subscribe(types...)
	defer s.bus.Unsubscribe(events)

	p := profileFromContext(r.Context())
	s.logger.Info("admin feed connected", "profile_id", p.ID)

	// The client only sends control frames; reading surfaces the close.
	conn.SetReadLimit(feedMaxMessage)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(feedPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			s.logger.Info("admin feed disconnected", "profile_id", p.ID)
			return
		case e, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(feedWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		}
	}
}
