package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/faexperts/fawizard/internal/config"
	"github.com/faexperts/fawizard/internal/feed"
	"github.com/faexperts/fawizard/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		App:    config.AppConfig{Name: "FA Wizard", BaseURL: "http://localhost"},
		Server: config.ServerConfig{Addr: "127.0.0.1:0", AllowedOrigins: []string{"http://localhost"}, MaxBodyBytes: 1 << 20},
		Auth: config.AuthConfig{
			Provider:      "builtin",
			Secret:        "test-secret-at-least-32-chars-long",
			SessionExpiry: config.Duration{Duration: time.Hour},
			CodeExpiry:    config.Duration{Duration: 15 * time.Minute},
			CookieName:    "fawizard_session",
		},
		Storage:   config.StorageConfig{Driver: "sqlite", DSN: ":memory:", EventRetention: config.Duration{Duration: 24 * time.Hour}},
		Mail:      config.MailConfig{Provider: "log"},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 10, Burst: 20},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, feed.New(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNewServesHealth(t *testing.T) {
	a := newTestApp(t, testConfig())
	t.Cleanup(a.close)

	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	// Billing is disabled, so the webhook route is not mounted.
	w = httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", nil))
	if w.Code != http.StatusNotFound && w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected webhook route to be absent, got %d", w.Code)
	}
}

func TestNewWithBilling(t *testing.T) {
	cfg := testConfig()
	cfg.Billing = config.BillingConfig{
		Enabled:             true,
		StripeSecretKey:     "sk_test_123",
		StripeWebhookSecret: "whsec_123",
		Plans:               []config.PlanConfig{{PriceID: "price_A", Name: "FA Wizard"}},
		Dedupe:              config.DedupeConfig{Driver: "store"},
	}
	a := newTestApp(t, cfg)
	t.Cleanup(a.close)

	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/billing/plans", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected plans route, got %d", w.Code)
	}
}

func TestNewRejectsUnknownMailProvider(t *testing.T) {
	cfg := testConfig()
	cfg.Mail.Provider = "carrier-pigeon"
	_, err := New(context.Background(), cfg, feed.New(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected error for unknown mail provider")
	}
}

func TestPurge(t *testing.T) {
	a := newTestApp(t, testConfig())
	t.Cleanup(a.close)
	ctx := context.Background()

	now := time.Now()
	if err := a.store.CreateLoginCode(ctx, &store.LoginCode{
		CodeHash: "expired", Email: "a@example.com", CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatal(err)
	}
	if err := a.store.CreateLoginCode(ctx, &store.LoginCode{
		CodeHash: "live", Email: "b@example.com", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	if err := a.store.RecordWebhookEvent(ctx, "evt_old", "invoice.paid"); err != nil {
		t.Fatal(err)
	}

	// Two days later the event is past the one-day retention.
	a.now = func() time.Time { return now.Add(48 * time.Hour) }
	a.purge(ctx)

	seen, err := a.store.WebhookEventProcessed(ctx, "evt_old")
	if err != nil || seen {
		t.Fatalf("expected webhook event purged, got %v, %v", seen, err)
	}
	if lc, err := a.store.ConsumeLoginCode(ctx, "live", now); err != nil || lc != nil {
		t.Fatalf("expected live code purged once expired at the purge time, got %+v, %v", lc, err)
	}
}

func TestPurgeKeepsUnexpiredCodes(t *testing.T) {
	a := newTestApp(t, testConfig())
	t.Cleanup(a.close)
	ctx := context.Background()

	now := time.Now()
	if err := a.store.CreateLoginCode(ctx, &store.LoginCode{
		CodeHash: "live", Email: "b@example.com", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	a.purge(ctx)

	lc, err := a.store.ConsumeLoginCode(ctx, "live", now)
	if err != nil || lc == nil {
		t.Fatalf("expected live code to survive, got %+v, %v", lc, err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a := newTestApp(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if err := a.store.Ping(context.Background()); err == nil {
		t.Fatal("expected store to be closed after Run")
	}
}
