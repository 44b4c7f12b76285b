package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/faexperts/fawizard/internal/config"
	"github.com/faexperts/fawizard/internal/feed"
	"github.com/faexperts/fawizard/internal/mail"
	"github.com/faexperts/fawizard/internal/store"
)

type testEnv struct {
	svc    *Service
	store  store.Store
	mailer *mail.LogMailer
	bus    *feed.Bus
}

func newTestAuthService(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mailer := mail.NewLogMailer(logger)
	bus := feed.New()

	app := config.AppConfig{Name: "FA Wizard", BaseURL: "https://fawizard.example"}
	cfg := config.AuthConfig{
		Secret:        "test-secret-at-least-32-chars-long",
		SessionExpiry: config.Duration{Duration: time.Hour},
		CodeExpiry:    config.Duration{Duration: 15 * time.Minute},
		AdminEmails:   []string{"boss@example.com"},
	}

	svc, err := NewService(s, mailer, bus, logger, app, cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &testEnv{svc: svc, store: s, mailer: mailer, bus: bus}
}

// lastCode extracts the login code from the most recent magic-link email.
func lastCode(t *testing.T, m *mail.LogMailer) string {
	t.Helper()
	sent := m.Sent()
	if len(sent) == 0 {
		t.Fatal("no email sent")
	}
	text := sent[len(sent)-1].Text
	i := strings.Index(text, "https://fawizard.example/api/auth/callback?")
	if i < 0 {
		t.Fatalf("callback link not found in %q", text)
	}
	link := strings.Fields(text[i:])[0]
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	code := u.Query().Get("code")
	if code == "" {
		t.Fatalf("no code in %s", link)
	}
	return code
}

func TestMagicLinkLogin(t *testing.T) {
	env := newTestAuthService(t)
	ctx := context.Background()
	events := env.bus.Subscribe(feed.ProfileLogin)

	err := env.svc.RequestMagicLink(ctx, MagicLinkRequest{
		Email:     "Ann@Example.com",
		Next:      "/register",
		FirstName: "Ann",
		LastName:  "Lee",
	})
	if err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	sent := env.mailer.Sent()
	if sent[0].To.Email != "ann@example.com" {
		t.Errorf("recipient: got %q", sent[0].To.Email)
	}

	login, err := env.svc.Exchange(ctx, lastCode(t, env.mailer))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if login.Next != "/register" {
		t.Errorf("Next: got %q, want /register", login.Next)
	}
	if login.Profile.Email != "ann@example.com" || login.Profile.FirstName != "Ann" {
		t.Errorf("profile: got %+v", login.Profile)
	}
	if login.Profile.IsAdmin {
		t.Error("non-listed email must not be admin")
	}

	id, err := env.svc.ValidateToken(ctx, login.Token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if id.ProfileID != login.Profile.ID || id.Email != "ann@example.com" {
		t.Errorf("identity: got %+v", id)
	}

	select {
	case e := <-events:
		if e.Type != feed.ProfileLogin {
			t.Errorf("event type: got %s", e.Type)
		}
	default:
		t.Error("expected profile.login event")
	}
}

func TestExchangeCodeIsSingleUse(t *testing.T) {
	env := newTestAuthService(t)
	ctx := context.Background()

	if err := env.svc.RequestMagicLink(ctx, MagicLinkRequest{Email: "a@example.com"}); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	code := lastCode(t, env.mailer)

	if _, err := env.svc.Exchange(ctx, code); err != nil {
		t.Fatalf("first Exchange: %v", err)
	}
	if _, err := env.svc.Exchange(ctx, code); err != ErrInvalidCode {
		t.Fatalf("second Exchange: expected ErrInvalidCode, got %v", err)
	}
	if _, err := env.svc.Exchange(ctx, "made-up"); err != ErrInvalidCode {
		t.Fatalf("unknown code: expected ErrInvalidCode, got %v", err)
	}
	if _, err := env.svc.Exchange(ctx, ""); err != ErrInvalidCode {
		t.Fatalf("empty code: expected ErrInvalidCode, got %v", err)
	}
}

// staleLookup misses the first email lookup, as if another sign-in inserted
// the profile between the lookup and the upsert.
type staleLookup struct {
	store.Store
	missed bool
}

func (s *staleLookup) GetProfileByEmail(ctx context.Context, email string) (*store.Profile, error) {
	if !s.missed {
		s.missed = true
		return nil, nil
	}
	return s.Store.GetProfileByEmail(ctx, email)
}

func TestExchangeFirstLoginRace(t *testing.T) {
	env := newTestAuthService(t)
	ctx := context.Background()

	var codes []string
	for range 2 {
		if err := env.svc.RequestMagicLink(ctx, MagicLinkRequest{Email: "new@example.com"}); err != nil {
			t.Fatalf("RequestMagicLink: %v", err)
		}
		codes = append(codes, lastCode(t, env.mailer))
	}

	first, err := env.svc.Exchange(ctx, codes[0])
	if err != nil {
		t.Fatalf("first Exchange: %v", err)
	}

	env.svc.store = &staleLookup{Store: env.store}
	second, err := env.svc.Exchange(ctx, codes[1])
	if err != nil {
		t.Fatalf("racing Exchange: %v", err)
	}
	if second.Profile.ID != first.Profile.ID {
		t.Errorf("profile id: got %s, want %s", second.Profile.ID, first.Profile.ID)
	}

	profiles, err := env.store.ListProfiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(profiles))
	}
}

func TestExchangeExpiredCode(t *testing.T) {
	env := newTestAuthService(t)
	ctx := context.Background()

	if err := env.svc.RequestMagicLink(ctx, MagicLinkRequest{Email: "a@example.com"}); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	code := lastCode(t, env.mailer)

	env.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := env.svc.Exchange(ctx, code); err != ErrInvalidCode {
		t.Fatalf("expected ErrInvalidCode for expired code, got %v", err)
	}
}

func TestExchangeKeepsAdminAndBilling(t *testing.T) {
	env := newTestAuthService(t)
	ctx := context.Background()

	p := &store.Profile{Email: "member@example.com", FirstName: "Old"}
	if err := env.store.CreateProfile(ctx, p); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if err := env.store.SetProfileAdmin(ctx, p.ID, true); err != nil {
		t.Fatalf("SetProfileAdmin: %v", err)
	}
	if err := env.store.UpdateProfileBilling(ctx, p.ID, "cus_1", "price_A", true); err != nil {
		t.Fatalf("UpdateProfileBilling: %v", err)
	}

	if err := env.svc.RequestMagicLink(ctx, MagicLinkRequest{Email: "member@example.com", FirstName: "New"}); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	login, err := env.svc.Exchange(ctx, lastCode(t, env.mailer))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if login.Profile.ID != p.ID {
		t.Errorf("profile id: got %s, want existing %s", login.Profile.ID, p.ID)
	}
	if !login.Profile.IsAdmin || !login.Profile.IsSubscribed || login.Profile.CustomerID != "cus_1" {
		t.Errorf("admin/billing fields lost: %+v", login.Profile)
	}
	if login.Profile.FirstName != "New" {
		t.Errorf("FirstName: got %q, want New", login.Profile.FirstName)
	}
}

func TestAdminEmailBootstrap(t *testing.T) {
	env := newTestAuthService(t)
	ctx := context.Background()

	if err := env.svc.RequestMagicLink(ctx, MagicLinkRequest{Email: "BOSS@example.com"}); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	login, err := env.svc.Exchange(ctx, lastCode(t, env.mailer))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if !login.Profile.IsAdmin {
		t.Error("profile for admin email should start as admin")
	}
}

func TestUnsafeNextDropped(t *testing.T) {
	cases := map[string]string{
		"/dashboard":            "/dashboard",
		"/register?plan=a":      "/register?plan=a",
		"":                      "",
		"https://evil.example/": "",
		"//evil.example":        "",
		"/\\evil.example":       "",
		"dashboard":             "",
	}
	for in, want := range cases {
		if got := SafeNext(in); got != want {
			t.Errorf("SafeNext(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestExpiredToken(t *testing.T) {
	env := newTestAuthService(t)
	env.svc.cfg.SessionExpiry = config.Duration{Duration: -time.Hour}

	token, _, err := env.svc.IssueToken(&store.Profile{ID: "u1", Email: "u1@example.com"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := env.svc.ValidateToken(context.Background(), token); err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestTokenFromOtherSecretRejected(t *testing.T) {
	env := newTestAuthService(t)
	other := newTestAuthService(t)
	other.svc.signingKey, _ = deriveKey("a-completely-different-secret-value", "fawizard session signing")

	token, _, err := other.svc.IssueToken(&store.Profile{ID: "u1"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := env.svc.ValidateToken(context.Background(), token); err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := env.svc.ValidateToken(context.Background(), "not-a-jwt"); err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized for garbage, got %v", err)
	}
}

func TestDerivedKeysDiffer(t *testing.T) {
	env := newTestAuthService(t)
	if string(env.svc.signingKey) == string(env.svc.codeKey) {
		t.Error("signing and code keys must differ")
	}
	if string(env.svc.signingKey) == "test-secret-at-least-32-chars-long" {
		t.Error("signing key must be derived, not the raw secret")
	}
}

// --- JWKS provider ---

func newTestJWKS(t *testing.T) (*rsa.PrivateKey, keyfunc.Keyfunc) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	set := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "test-key",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	raw, err := json.Marshal(set)
	if err != nil {
		t.Fatal(err)
	}
	kf, err := keyfunc.NewJWKSetJSON(raw)
	if err != nil {
		t.Fatalf("NewJWKSetJSON: %v", err)
	}
	return key, kf
}

func signRS256(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestJWKSProviderValidateToken(t *testing.T) {
	key, kf := newTestJWKS(t)
	p := newJWKSProvider(kf, "https://project.supabase.example/auth/v1/")

	token := signRS256(t, key, jwt.MapClaims{
		"sub":   "user-123",
		"email": "Member@Example.com",
		"iss":   "https://project.supabase.example/auth/v1",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	id, err := p.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if id.ProfileID != "user-123" || id.Email != "member@example.com" {
		t.Errorf("identity: got %+v", id)
	}
}

func TestJWKSProviderRejects(t *testing.T) {
	key, kf := newTestJWKS(t)
	p := newJWKSProvider(kf, "https://issuer.example")

	cases := map[string]jwt.MapClaims{
		"wrong issuer": {"sub": "u", "iss": "https://other.example", "exp": time.Now().Add(time.Hour).Unix()},
		"no expiry":    {"sub": "u", "iss": "https://issuer.example"},
		"expired":      {"sub": "u", "iss": "https://issuer.example", "exp": time.Now().Add(-time.Hour).Unix()},
		"no subject":   {"iss": "https://issuer.example", "exp": time.Now().Add(time.Hour).Unix()},
	}
	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := p.ValidateToken(context.Background(), signRS256(t, key, claims)); err != ErrUnauthorized {
				t.Errorf("expected ErrUnauthorized, got %v", err)
			}
		})
	}

	otherKey, _ := newTestJWKS(t)
	forged := signRS256(t, otherKey, jwt.MapClaims{"sub": "u", "iss": "https://issuer.example", "exp": time.Now().Add(time.Hour).Unix()})
	if _, err := p.ValidateToken(context.Background(), forged); err != ErrUnauthorized {
		t.Errorf("forged token: expected ErrUnauthorized, got %v", err)
	}
}

func TestResolveProfileProvision(t *testing.T) {
	env := newTestAuthService(t)
	ctx := context.Background()
	cfg := config.AuthConfig{AdminEmails: []string{"boss@example.com"}}
	id := &Identity{ProfileID: "ext-1", Email: "boss@example.com"}

	p, err := ResolveProfile(ctx, env.store, cfg, id, false)
	if err != nil || p != nil {
		t.Fatalf("without provisioning: got %+v, %v", p, err)
	}

	p, err = ResolveProfile(ctx, env.store, cfg, id, true)
	if err != nil {
		t.Fatalf("ResolveProfile: %v", err)
	}
	if p == nil || p.ID != "ext-1" || !p.IsAdmin {
		t.Fatalf("provisioned profile: got %+v", p)
	}

	again, err := ResolveProfile(ctx, env.store, cfg, id, true)
	if err != nil || again.ID != p.ID {
		t.Fatalf("second resolve: got %+v, %v", again, err)
	}
}

func TestResolveProfileEmailOwnedElsewhere(t *testing.T) {
	env := newTestAuthService(t)
	ctx := context.Background()
	buyer := &store.Profile{Email: "buyer@example.com", IsSubscribed: true}
	if err := env.store.CreateProfile(ctx, buyer); err != nil {
		t.Fatal(err)
	}

	id := &Identity{ProfileID: "ext-2", Email: "buyer@example.com"}
	p, err := ResolveProfile(ctx, env.store, config.AuthConfig{}, id, true)
	if err != nil {
		t.Fatalf("ResolveProfile: %v", err)
	}
	if p == nil || p.ID != buyer.ID || !p.IsSubscribed {
		t.Fatalf("expected the checkout profile, got %+v", p)
	}
}
