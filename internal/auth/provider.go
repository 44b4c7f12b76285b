package auth

import (
	"context"
	"time"

	"github.com/faexperts/fawizard/internal/store"
)

// Identity is the caller as established by a Provider.
type Identity struct {
	ProfileID string
	Email     string
}

// Provider validates session or bearer tokens and returns identities.
type Provider interface {
	ValidateToken(ctx context.Context, token string) (*Identity, error)
	Name() string
}

// LoginProvider is implemented by providers that run the magic-link sign-in.
type LoginProvider interface {
	RequestMagicLink(ctx context.Context, req MagicLinkRequest) error
	Exchange(ctx context.Context, code string) (*Login, error)
}

// MagicLinkRequest asks for a sign-in email. Name fields are copied onto the
// profile when the link is used.
type MagicLinkRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Next      string `json:"next,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Login is the result of a successful code exchange.
type Login struct {
	Token     string
	ExpiresAt time.Time
	Profile   *store.Profile
	Next      string // validated relative path, or "" for the default destination
}
