package api

import (
	"errors"
	"net/http"

	"github.com/faexperts/fawizard/internal/billing"
)

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.billing.Plans())
}

// handleCreateCheckout works with or without a session; a signed-in caller is
// attached to the Stripe session as its client reference.
func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req billing.CheckoutRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.Struct(req); err != nil {
		if !writeValidation(w, err) {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	url, err := s.billing.CreateCheckout(r.Context(), req, profileFromContext(r.Context()))
	if err != nil {
		s.logger.Error("create checkout failed", "price_id", req.PriceID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleCreatePortal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReturnURL string `json:"returnUrl" validate:"required,url"`
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

	url, err := s.billing.CreatePortal(r.Context(), profileFromContext(r.Context()), req.ReturnURL)
	if errors.Is(err, billing.ErrNoCustomer) {
		writeError(w, http.StatusBadRequest, "no billing account for this profile")
		return
	}
	if err != nil {
		s.logger.Error("create portal failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
