// Package config handles fawizard configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"local-dev-secret-for-testing-only-32chars!": true,
	"changeme": true,
	"secret":   true,
}

// GenerateRandomSecret returns a cryptographically random 64-character hex string
// suitable for use as the auth secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level configuration.
type Config struct {
	App       AppConfig       `json:"app"`
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Storage   StorageConfig   `json:"storage"`
	Billing   BillingConfig   `json:"billing,omitempty"`
	Mail      MailConfig      `json:"mail,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// AppConfig describes the public face of the application.
type AppConfig struct {
	Name         string `json:"name,omitempty"`
	BaseURL      string `json:"base_url,omitempty"` // e.g. "https://fawizard.com", used in magic links
	SupportEmail string `json:"support_email,omitempty"`
}

// ServerConfig defines the listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"`                      // e.g. ":8080"
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
	UIStaticDir    string   `json:"ui_static_dir,omitempty"`   // path to built UI files
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`  // max request body size; default 1MB
}

// AuthConfig defines authentication settings.
type AuthConfig struct {
	Provider      string   `json:"provider,omitempty"` // "builtin" (magic link, default) or "jwks"
	Secret        string   `json:"secret"`             // master secret for session signing and code hashing
	SessionExpiry Duration `json:"session_expiry,omitempty"`
	CodeExpiry    Duration `json:"code_expiry,omitempty"` // lifetime of a magic-link code
	CookieName    string   `json:"cookie_name,omitempty"`
	LoginURL      string   `json:"login_url,omitempty"`    // where unauthenticated browsers are sent
	CallbackURL   string   `json:"callback_url,omitempty"` // post-login destination
	ErrorURL      string   `json:"error_url,omitempty"`
	JWKSURL       string   `json:"jwks_url,omitempty"` // required for provider "jwks"
	Issuer        string   `json:"issuer,omitempty"`
	AdminEmails   []string `json:"admin_emails,omitempty"` // profiles created with these emails start as admins
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver         string   `json:"driver"` // "sqlite" (default) or "postgres"
	DSN            string   `json:"dsn"`    // e.g. "fawizard.db" or ":memory:"
	EventRetention Duration `json:"event_retention,omitempty"` // how long processed webhook ids are kept
}

// BillingConfig defines Stripe billing settings. Disabled by default.
type BillingConfig struct {
	Enabled             bool         `json:"enabled,omitempty"`
	StripeSecretKey     string       `json:"stripe_secret_key,omitempty"`
	StripeWebhookSecret string       `json:"stripe_webhook_secret,omitempty"`
	Plans               []PlanConfig `json:"plans,omitempty"`
	Dedupe              DedupeConfig `json:"dedupe,omitempty"`
}

// PlanConfig is one purchasable plan. The webhook matches purchases to plans by PriceID.
type PlanConfig struct {
	PriceID         string   `json:"price_id"`
	SetupFeePriceID string   `json:"setup_fee_price_id,omitempty"`
	CouponCodes     []string `json:"coupon_codes,omitempty"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Price           float64  `json:"price,omitempty"`
	PriceAnchor     float64  `json:"price_anchor,omitempty"`
	SetupFee        float64  `json:"setup_fee,omitempty"`
	Featured        bool     `json:"featured,omitempty"`
	Features        []string `json:"features,omitempty"`
}

// DedupeConfig selects where processed webhook event ids are remembered.
type DedupeConfig struct {
	Driver        string   `json:"driver,omitempty"` // "store" (default), "redis" or "none"
	RedisAddr     string   `json:"redis_addr,omitempty"`
	RedisPassword string   `json:"redis_password,omitempty"`
	RedisDB       int      `json:"redis_db,omitempty"`
	TTL           Duration `json:"ttl,omitempty"`
}

// MailConfig defines outgoing mail settings.
type MailConfig struct {
	Provider       string `json:"provider,omitempty"` // "log" (default) or "sendgrid"
	SendgridAPIKey string `json:"sendgrid_api_key,omitempty"`
	FromName       string `json:"from_name,omitempty"`
	FromAddress    string `json:"from_address,omitempty"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// RateLimitConfig defines rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // default 10
	Burst             int     `json:"burst,omitempty"`               // default 20
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads a config file, applies environment overrides and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyEnv lets secrets live outside the config file. Variable names match the
// ones used by the hosted deployment.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("FAWIZARD_AUTH_SECRET"); v != "" {
		c.Auth.Secret = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Storage.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			c.Storage.Driver = "postgres"
		}
	}
	if v := getenv("STRIPE_SECRET_KEY"); v != "" {
		c.Billing.StripeSecretKey = v
	}
	if v := getenv("STRIPE_WEBHOOK_SECRET"); v != "" {
		c.Billing.StripeWebhookSecret = v
	}
	if v := getenv("SENDGRID_API_KEY"); v != "" {
		c.Mail.SendgridAPIKey = v
	}
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	switch c.Auth.Provider {
	case "", "builtin":
		if c.Auth.Secret == "" {
			return fmt.Errorf("auth.secret is required")
		}
	case "jwks":
		if c.Auth.JWKSURL == "" {
			return fmt.Errorf("auth.jwks_url is required when provider is jwks")
		}
	default:
		return fmt.Errorf("unknown auth.provider %q", c.Auth.Provider)
	}
	if c.Auth.Secret != "" && len(c.Auth.Secret) < 32 {
		return fmt.Errorf("auth.secret must be at least 32 characters")
	}
	if knownWeakSecrets[c.Auth.Secret] {
		return fmt.Errorf("auth.secret is a well-known weak secret, generate a new one")
	}

	if c.Billing.Enabled {
		if c.Billing.StripeSecretKey == "" {
			return fmt.Errorf("billing.stripe_secret_key is required when billing is enabled")
		}
		if c.Billing.StripeWebhookSecret == "" {
			return fmt.Errorf("billing.stripe_webhook_secret is required when billing is enabled")
		}
		if len(c.Billing.Plans) == 0 {
			return fmt.Errorf("billing.plans must list at least one plan")
		}
		for i, p := range c.Billing.Plans {
			if p.PriceID == "" {
				return fmt.Errorf("billing.plans[%d].price_id is required", i)
			}
		}
	}
	switch c.Billing.Dedupe.Driver {
	case "", "store", "none":
	case "redis":
		if c.Billing.Dedupe.RedisAddr == "" {
			return fmt.Errorf("billing.dedupe.redis_addr is required when dedupe driver is redis")
		}
	default:
		return fmt.Errorf("unknown billing.dedupe.driver %q", c.Billing.Dedupe.Driver)
	}

	switch c.Mail.Provider {
	case "", "log":
	case "sendgrid":
		if c.Mail.SendgridAPIKey == "" {
			return fmt.Errorf("mail.sendgrid_api_key is required when provider is sendgrid")
		}
	default:
		return fmt.Errorf("unknown mail.provider %q", c.Mail.Provider)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "FA Wizard"
	}
	if c.App.BaseURL == "" {
		c.App.BaseURL = "http://localhost" + c.Server.Addr
	}
	c.App.BaseURL = strings.TrimRight(c.App.BaseURL, "/")
	if c.Auth.Provider == "" {
		c.Auth.Provider = "builtin"
	}
	if c.Auth.SessionExpiry.Duration == 0 {
		c.Auth.SessionExpiry.Duration = 7 * 24 * time.Hour
	}
	if c.Auth.CodeExpiry.Duration == 0 {
		c.Auth.CodeExpiry.Duration = 15 * time.Minute
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "fawizard_session"
	}
	if c.Auth.LoginURL == "" {
		c.Auth.LoginURL = "/signin"
	}
	if c.Auth.CallbackURL == "" {
		c.Auth.CallbackURL = "/dashboard"
	}
	if c.Auth.ErrorURL == "" {
		c.Auth.ErrorURL = "/error"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "fawizard.db"
	}
	if c.Storage.EventRetention.Duration == 0 {
		c.Storage.EventRetention.Duration = 30 * 24 * time.Hour // 30 days
	}
	if c.Billing.Dedupe.Driver == "" {
		c.Billing.Dedupe.Driver = "store"
	}
	if c.Billing.Dedupe.TTL.Duration == 0 {
		c.Billing.Dedupe.TTL.Duration = c.Storage.EventRetention.Duration
	}
	if c.Mail.Provider == "" {
		c.Mail.Provider = "log"
	}
	if c.Mail.FromName == "" {
		c.Mail.FromName = c.App.Name
	}
	if c.Mail.FromAddress == "" {
		c.Mail.FromAddress = "no-reply@localhost"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
}

// PlanByPriceID returns the configured plan for a Stripe price id.
func (c BillingConfig) PlanByPriceID(priceID string) (PlanConfig, bool) {
	if priceID == "" {
		return PlanConfig{}, false
	}
	for _, p := range c.Plans {
		if p.PriceID == priceID {
			return p, true
		}
	}
	return PlanConfig{}, false
}

// IsAdminEmail reports whether email is listed in auth.admin_emails.
func (c AuthConfig) IsAdminEmail(email string) bool {
	for _, e := range c.AdminEmails {
		if strings.EqualFold(strings.TrimSpace(e), strings.TrimSpace(email)) {
			return true
		}
	}
	return false
}
