package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/faexperts/fawizard/internal/config"
	"github.com/faexperts/fawizard/internal/feed"
	"github.com/faexperts/fawizard/internal/mail"
	"github.com/faexperts/fawizard/internal/store"
)

// NewProvider creates an auth Provider based on configuration.
func NewProvider(ctx context.Context, cfg *config.Config, s store.Store, mailer mail.Mailer, bus *feed.Bus, logger *slog.Logger) (Provider, error) {
	switch cfg.Auth.Provider {
	case "jwks":
		p, err := NewJWKSProvider(ctx, cfg.Auth.JWKSURL, cfg.Auth.Issuer)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "builtin", "":
		svc, err := NewService(s, mailer, bus, logger, cfg.App, cfg.Auth)
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unknown auth provider: %q", cfg.Auth.Provider)
	}
}

// ResolveProfile loads the stored profile of an identity. When provision is
// set a missing profile is created from the identity, which is how externally
// managed users get a profile on first sight.
func ResolveProfile(ctx context.Context, s store.Store, cfg config.AuthConfig, id *Identity, provision bool) (*store.Profile, error) {
	p, err := s.GetProfile(ctx, id.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if p != nil || !provision {
		return p, nil
	}

	p = &store.Profile{
		ID:      id.ProfileID,
		Email:   id.Email,
		IsAdmin: cfg.IsAdminEmail(id.Email),
	}
	if err := s.UpsertProfileLogin(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// The email already belongs to a profile, e.g. one created at checkout.
			return s.GetProfileByEmail(ctx, id.Email)
		}
		return nil, fmt.Errorf("provision profile: %w", err)
	}
	return s.GetProfile(ctx, id.ProfileID)
}
