package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"

	"github.com/faexperts/fawizard/internal/store"
)

// CheckoutRequest is the body of a checkout request.
type CheckoutRequest struct {
	PriceID         string   `json:"priceId" validate:"notblank"`
	SetupFeePriceID string   `json:"setupFeePriceId,omitempty"`
	CouponCodes     []string `json:"couponCodes,omitempty"`
	Mode            string   `json:"mode" validate:"required,oneof=payment subscription"`
	SuccessURL      string   `json:"successUrl" validate:"required,url"`
	CancelURL       string   `json:"cancelUrl" validate:"required,url"`
}

// CheckoutParams builds the Stripe session parameters. The caller profile is
// optional; when present its id becomes the client reference and its billing
// identity prefills the session.
func CheckoutParams(req CheckoutRequest, caller *store.Profile) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(req.Mode),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(strings.TrimSpace(req.PriceID)), Quantity: stripe.Int64(1)},
		},
	}
	if fee := strings.TrimSpace(req.SetupFeePriceID); fee != "" {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(fee),
			Quantity: stripe.Int64(1),
		})
	}

	// Checkout accepts one discount per session.
	if len(req.CouponCodes) > 0 && strings.TrimSpace(req.CouponCodes[0]) != "" {
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{Coupon: stripe.String(strings.TrimSpace(req.CouponCodes[0]))},
		}
	} else {
		params.AllowPromotionCodes = stripe.Bool(true)
	}

	if caller != nil {
		params.ClientReferenceID = stripe.String(caller.ID)
	}
	if caller != nil && caller.CustomerID != "" {
		params.Customer = stripe.String(caller.CustomerID)
		return params
	}

	if req.Mode == string(stripe.CheckoutSessionModePayment) {
		params.CustomerCreation = stripe.String(string(stripe.CheckoutSessionCustomerCreationAlways))
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			SetupFutureUsage: stripe.String("on_session"),
		}
	}
	if caller != nil && caller.Email != "" {
		params.CustomerEmail = stripe.String(caller.Email)
	}
	params.TaxIDCollection = &stripe.CheckoutSessionTaxIDCollectionParams{Enabled: stripe.Bool(true)}
	return params
}

// CreateCheckout opens a hosted checkout session and returns its URL.
func (s *Service) CreateCheckout(ctx context.Context, req CheckoutRequest, caller *store.Profile) (string, error) {
	sess, err := s.api.CreateCheckoutSession(ctx, CheckoutParams(req, caller))
	if err != nil {
		return "", err
	}
	if sess.URL == "" {
		return "", fmt.Errorf("checkout session %s has no url", sess.ID)
	}
	s.logger.Info("checkout session created", "session_id", sess.ID, "price_id", req.PriceID, "authenticated", caller != nil)
	return sess.URL, nil
}
