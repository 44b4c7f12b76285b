// Package billing runs Stripe checkout and reconciles Stripe webhook events
// onto profile subscription fields.
package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/faexperts/fawizard/internal/config"
	"github.com/faexperts/fawizard/internal/feed"
	"github.com/faexperts/fawizard/internal/store"
)

var (
	ErrNoMatchingPlan  = errors.New("no configured plan matches the purchased price")
	ErrProfileNotFound = errors.New("referenced profile not found")
	ErrNoCustomer      = errors.New("profile has no billing customer")
)

// Service handles checkout, the customer portal and webhooks.
type Service struct {
	api     API
	store   store.Store
	dedupe  Deduper
	bus     *feed.Bus
	logger  *slog.Logger
	cfg     config.BillingConfig
	maxBody int64
}

// defaultMaxBody caps webhook payloads when no limit is configured.
const defaultMaxBody = 1 << 20

// NewService creates a billing service. A nil deduper disables event dedupe.
// maxBody limits webhook payloads, normally server.max_body_bytes.
func NewService(api API, s store.Store, dedupe Deduper, bus *feed.Bus, logger *slog.Logger, cfg config.BillingConfig, maxBody int64) *Service {
	if dedupe == nil {
		dedupe = nopDeduper{}
	}
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Service{
		api:     api,
		store:   s,
		dedupe:  dedupe,
		bus:     bus,
		logger:  logger.With("component", "billing"),
		cfg:     cfg,
		maxBody: maxBody,
	}
}

// Plans returns the configured plans in display order.
func (s *Service) Plans() []config.PlanConfig {
	out := make([]config.PlanConfig, len(s.cfg.Plans))
	copy(out, s.cfg.Plans)
	return out
}

// CreatePortal opens a customer portal session for a profile that has purchased before.
func (s *Service) CreatePortal(ctx context.Context, p *store.Profile, returnURL string) (string, error) {
	if p == nil || p.CustomerID == "" {
		return "", ErrNoCustomer
	}
	sess, err := s.api.CreatePortalSession(ctx, p.CustomerID, returnURL)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}
