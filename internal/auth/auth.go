// Package auth implements magic-link sign-in, session tokens and external
// JWKS-validated identities.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/faexperts/fawizard/internal/config"
	"github.com/faexperts/fawizard/internal/feed"
	"github.com/faexperts/fawizard/internal/mail"
	"github.com/faexperts/fawizard/internal/store"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidCode  = errors.New("invalid or expired login code")
)

const sessionIssuer = "fawizard"

// Claims are the session token claims. The subject is the profile id.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Service is the builtin provider: one-time login codes delivered by email
// and HS256 session tokens. It implements Provider and LoginProvider.
type Service struct {
	store      store.Store
	mailer     mail.Mailer
	bus        *feed.Bus
	logger     *slog.Logger
	app        config.AppConfig
	cfg        config.AuthConfig
	signingKey []byte
	codeKey    []byte
	now        func() time.Time
}

// NewService creates the builtin auth service. Signing and code-hash keys are
// derived from cfg.Secret.
func NewService(s store.Store, mailer mail.Mailer, bus *feed.Bus, logger *slog.Logger, app config.AppConfig, cfg config.AuthConfig) (*Service, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}
	signingKey, err := deriveKey(cfg.Secret, "fawizard session signing")
	if err != nil {
		return nil, err
	}
	codeKey, err := deriveKey(cfg.Secret, "fawizard login code")
	if err != nil {
		return nil, err
	}
	return &Service{
		store:      s,
		mailer:     mailer,
		bus:        bus,
		logger:     logger.With("component", "auth"),
		app:        app,
		cfg:        cfg,
		signingKey: signingKey,
		codeKey:    codeKey,
		now:        time.Now,
	}, nil
}

func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Name returns the provider name.
func (s *Service) Name() string { return "builtin" }

func (s *Service) hashCode(code string) string {
	mac := hmac.New(sha256.New, s.codeKey)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// RequestMagicLink stores a fresh login code and mails the callback link.
func (s *Service) RequestMagicLink(ctx context.Context, req MagicLinkRequest) error {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return fmt.Errorf("email is required")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	code := base64.RawURLEncoding.EncodeToString(raw)

	now := s.now()
	lc := &store.LoginCode{
		CodeHash:  s.hashCode(code),
		Email:     email,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Phone:     strings.TrimSpace(req.Phone),
		Next:      SafeNext(req.Next),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.CodeExpiry.Duration),
	}
	if err := s.store.CreateLoginCode(ctx, lc); err != nil {
		return fmt.Errorf("store login code: %w", err)
	}

	link := s.app.BaseURL + "/api/auth/callback?code=" + url.QueryEscape(code)
	msg, err := mail.MagicLink(mail.Address{Name: strings.TrimSpace(lc.FirstName + " " + lc.LastName), Email: email}, mail.MagicLinkData{
		AppName:      s.app.Name,
		Link:         link,
		ExpiresIn:    s.cfg.CodeExpiry.Duration.String(),
		SupportEmail: s.app.SupportEmail,
	})
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send magic link: %w", err)
	}
	return nil
}

// Exchange consumes a login code, upserts the profile and issues a session token.
func (s *Service) Exchange(ctx context.Context, code string) (*Login, error) {
	if code == "" {
		return nil, ErrInvalidCode
	}
	lc, err := s.store.ConsumeLoginCode(ctx, s.hashCode(code), s.now())
	if err != nil {
		return nil, fmt.Errorf("consume login code: %w", err)
	}
	if lc == nil {
		return nil, ErrInvalidCode
	}

	existing, err := s.store.GetProfileByEmail(ctx, lc.Email)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p := &store.Profile{
		Email:     lc.Email,
		FirstName: lc.FirstName,
		LastName:  lc.LastName,
		Phone:     lc.Phone,
	}
	if existing != nil {
		p.ID = existing.ID
	} else {
		p.IsAdmin = s.cfg.IsAdminEmail(lc.Email)
	}
	err = s.store.UpsertProfileLogin(ctx, p)
	if errors.Is(err, store.ErrDuplicate) && existing == nil {
		// Another first sign-in for this email won the insert; update that row.
		existing, err = s.store.GetProfileByEmail(ctx, lc.Email)
		if err != nil {
			return nil, fmt.Errorf("get profile: %w", err)
		}
		if existing == nil {
			return nil, fmt.Errorf("upsert profile: %w", store.ErrDuplicate)
		}
		p.ID = existing.ID
		err = s.store.UpsertProfileLogin(ctx, p)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}
	profile, err := s.store.GetProfile(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("reload profile: %w", err)
	}
	if profile == nil {
		return nil, fmt.Errorf("reload profile %s: %w", p.ID, store.ErrNotFound)
	}

	token, expiresAt, err := s.IssueToken(profile)
	if err != nil {
		return nil, err
	}

	s.logger.Info("profile signed in", "profile_id", profile.ID, "new", existing == nil)
	s.bus.PublishType(feed.ProfileLogin, map[string]any{"profile_id": profile.ID, "email": profile.Email, "new": existing == nil})

	return &Login{Token: token, ExpiresAt: expiresAt, Profile: profile, Next: lc.Next}, nil
}

// IssueToken signs a session token for the profile.
func (s *Service) IssueToken(p *store.Profile) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.SessionExpiry.Duration)
	claims := &Claims{
		Email: p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   p.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiresAt, nil
}

// ValidateToken validates a session token and returns the identity.
func (s *Service) ValidateToken(_ context.Context, tokenStr string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(sessionIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrUnauthorized
	}
	return &Identity{ProfileID: claims.Subject, Email: claims.Email}, nil
}

// SafeNext returns next when it is a same-site relative path, otherwise "".
func SafeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return next
}
