package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/faexperts/fawizard/internal/feed"
	"github.com/faexperts/fawizard/internal/store"
)

// Stripe event types the reconciler acts on.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventCheckoutExpired      = "checkout.session.expired"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// HandleWebhook verifies the Stripe signature and reconciles the event.
// Only a bad signature or unreadable body is rejected; processing errors are
// logged and the delivery is still acknowledged.
func (s *Service) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"),
		s.cfg.StripeWebhookSecret, webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.logger.Warn("webhook signature verification failed", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.process(r.Context(), event)
	writeJSON(w, http.StatusOK, struct{}{})
}

// process runs one verified event through dedupe and the reconciler.
func (s *Service) process(ctx context.Context, event stripe.Event) {
	logger := s.logger.With("event_id", event.ID, "event_type", string(event.Type))

	seen, err := s.dedupe.Seen(ctx, event.ID)
	if err != nil {
		logger.Warn("dedupe lookup failed, processing anyway", "error", err)
	}
	if seen {
		logger.Info("duplicate webhook event skipped")
		return
	}

	if err := s.Reconcile(ctx, event); err != nil {
		logger.Error("webhook event not applied", "error", err)
		return
	}
	if err := s.dedupe.Mark(ctx, event.ID, string(event.Type)); err != nil {
		logger.Warn("dedupe record failed", "error", err)
	}
}

// Reconcile applies one event to the profile table. Every action assigns
// fields outright, so applying an event twice leaves the same state.
func (s *Service) Reconcile(ctx context.Context, event stripe.Event) error {
	if event.Data == nil {
		return fmt.Errorf("event %s has no data", event.ID)
	}
	switch string(event.Type) {
	case EventCheckoutCompleted:
		return s.checkoutCompleted(ctx, event.Data.Raw)
	case EventSubscriptionDeleted:
		return s.subscriptionDeleted(ctx, event.Data.Raw)
	case EventInvoicePaid:
		return s.invoicePaid(ctx, event.Data.Raw)
	case EventCheckoutExpired, EventSubscriptionUpdated, EventInvoicePaymentFailed:
		return nil
	default:
		s.logger.Debug("unhandled event type", "event_type", string(event.Type))
		return nil
	}
}

func (s *Service) checkoutCompleted(ctx context.Context, raw json.RawMessage) error {
	var obj stripe.CheckoutSession
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}

	sess, err := s.api.GetCheckoutSession(ctx, obj.ID)
	if err != nil {
		return err
	}

	priceID := firstSessionPrice(sess)
	if _, ok := s.cfg.PlanByPriceID(priceID); !ok {
		return fmt.Errorf("price %q: %w", priceID, ErrNoMatchingPlan)
	}

	customerID := customerIDOf(sess.Customer)
	if customerID == "" {
		customerID = customerIDOf(obj.Customer)
	}

	ref := obj.ClientReferenceID
	if ref == "" {
		ref = sess.ClientReferenceID
	}

	profile, err := s.resolveCheckoutProfile(ctx, ref, sess, customerID)
	if err != nil {
		return err
	}

	if err := s.store.UpdateProfileBilling(ctx, profile.ID, customerID, priceID, true); err != nil {
		return fmt.Errorf("update profile %s billing: %w", profile.ID, err)
	}
	s.logger.Info("profile subscribed", "profile_id", profile.ID, "customer_id", customerID, "price_id", priceID)
	s.bus.PublishType(feed.BillingSubscribed, map[string]string{
		"profile_id":  profile.ID,
		"email":       profile.Email,
		"customer_id": customerID,
		"price_id":    priceID,
	})
	return nil
}

// resolveCheckoutProfile finds the buyer: by client reference id, else by the
// customer's email, else a new profile for that email.
func (s *Service) resolveCheckoutProfile(ctx context.Context, ref string, sess *stripe.CheckoutSession, customerID string) (*store.Profile, error) {
	if ref != "" {
		p, err := s.store.GetProfile(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("get profile %s: %w", ref, err)
		}
		if p == nil {
			return nil, fmt.Errorf("client reference %s: %w", ref, ErrProfileNotFound)
		}
		return p, nil
	}

	email := ""
	if sess.CustomerDetails != nil {
		email = sess.CustomerDetails.Email
	}
	if email == "" {
		email = sess.CustomerEmail
	}
	if email == "" && customerID != "" {
		cus, err := s.api.GetCustomer(ctx, customerID)
		if err != nil {
			return nil, err
		}
		email = cus.Email
	}
	if email == "" {
		return nil, fmt.Errorf("checkout session %s has no customer email", sess.ID)
	}

	p, err := s.store.GetProfileByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get profile by email: %w", err)
	}
	if p != nil {
		return p, nil
	}

	p = &store.Profile{Email: email}
	if sess.CustomerDetails != nil {
		p.Phone = sess.CustomerDetails.Phone
	}
	err = s.store.CreateProfile(ctx, p)
	if errors.Is(err, store.ErrDuplicate) {
		// A concurrent delivery created the profile after our lookup.
		existing, gerr := s.store.GetProfileByEmail(ctx, email)
		if gerr != nil {
			return nil, fmt.Errorf("get profile by email: %w", gerr)
		}
		if existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create profile for %s: %w", email, err)
	}
	s.logger.Info("profile created from checkout", "profile_id", p.ID)
	return p, nil
}

func (s *Service) subscriptionDeleted(ctx context.Context, raw json.RawMessage) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}
	customerID := customerIDOf(sub.Customer)

	n, err := s.store.SetSubscribedByCustomer(ctx, customerID, false)
	if err != nil {
		return fmt.Errorf("unsubscribe customer %s: %w", customerID, err)
	}
	if n == 0 {
		s.logger.Info("no profile for cancelled subscription", "customer_id", customerID)
		return nil
	}
	s.logger.Info("profile unsubscribed", "customer_id", customerID)
	s.bus.PublishType(feed.BillingUnsubscribed, map[string]string{"customer_id": customerID, "subscription_id": sub.ID})
	return nil
}

func (s *Service) invoicePaid(ctx context.Context, raw json.RawMessage) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return fmt.Errorf("decode invoice: %w", err)
	}
	customerID := customerIDOf(inv.Customer)
	priceID := firstInvoicePrice(&inv)

	p, err := s.store.GetProfileByCustomerID(ctx, customerID)
	if err != nil {
		return fmt.Errorf("get profile by customer %s: %w", customerID, err)
	}
	if p == nil {
		s.logger.Info("no profile for paid invoice", "customer_id", customerID)
		return nil
	}
	if p.PriceID != priceID {
		s.logger.Info("paid invoice price differs from profile plan",
			"customer_id", customerID, "profile_price_id", p.PriceID, "invoice_price_id", priceID)
		return nil
	}

	if _, err := s.store.SetSubscribedByCustomer(ctx, customerID, true); err != nil {
		return fmt.Errorf("subscribe customer %s: %w", customerID, err)
	}
	s.bus.PublishType(feed.BillingSubscribed, map[string]string{
		"profile_id":  p.ID,
		"email":       p.Email,
		"customer_id": customerID,
		"price_id":    priceID,
	})
	return nil
}

func customerIDOf(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func firstSessionPrice(sess *stripe.CheckoutSession) string {
	if sess.LineItems == nil || len(sess.LineItems.Data) == 0 || sess.LineItems.Data[0].Price == nil {
		return ""
	}
	return sess.LineItems.Data[0].Price.ID
}

func firstInvoicePrice(inv *stripe.Invoice) string {
	if inv.Lines == nil || len(inv.Lines.Data) == 0 || inv.Lines.Data[0].Price == nil {
		return ""
	}
	return inv.Lines.Data[0].Price.ID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
