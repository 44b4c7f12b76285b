package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/faexperts/fawizard/internal/registration"
	"github.com/faexperts/fawizard/internal/store"
)

func (s *Server) handleListSchools(w http.ResponseWriter, r *http.Request) {
	p := profileFromContext(r.Context())
	schools, err := s.registration.ListForProfile(r.Context(), p.ID)
	if err != nil {
		s.logger.Error("list schools failed", "profile_id", p.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list schools")
		return
	}
	writeJSON(w, http.StatusOK, schools)
}

func (s *Server) handleRegisterSchool(w http.ResponseWriter, r *http.Request) {
	var form registration.SchoolForm
	if !s.decodeJSON(w, r, &form) {
		return
	}

	p := profileFromContext(r.Context())
	sch, err := s.registration.Register(r.Context(), p.ID, form)
	if err != nil {
		s.writeRegistrationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sch)
}

// handleUpdateSchool serves both the owner route and the admin route; the
// registration service decides who may write.
func (s *Server) handleUpdateSchool(w http.ResponseWriter, r *http.Request) {
	var form registration.SchoolForm
	if !s.decodeJSON(w, r, &form) {
		return
	}

	sch, err := s.registration.Update(r.Context(), profileFromContext(r.Context()), chi.URLParam(r, "schoolID"), form)
	if err != nil {
		s.writeRegistrationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func (s *Server) writeRegistrationError(w http.ResponseWriter, err error) {
	if writeValidation(w, err) {
		return
	}
	switch {
	case errors.Is(err, registration.ErrSchoolExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registration.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		s.logger.Error("registration failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save school")
	}
}
