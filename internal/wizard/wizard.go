// Package wizard provides the interactive `fawizard init` config generator.
package wizard

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/faexperts/fawizard/internal/config"
)

const defaultOutput = "./fawizard.json"

// Wizard drives the interactive config setup.
type Wizard struct {
	p *Prompter
}

// New creates a Wizard using the given Prompter.
func New(p *Prompter) *Wizard {
	return &Wizard{p: p}
}

func (w *Wizard) section(title string) {
	w.p.printf("\n%s\n", title)
}

// Run asks for every setting and writes the config file.
func (w *Wizard) Run(outputPath string) error {
	w.p.printf("\n  FA Wizard - Configuration\n%s\n", strings.Repeat("-", 30))

	cfg := &config.Config{}
	secret, err := config.GenerateRandomSecret()
	if err != nil {
		return err
	}
	cfg.Auth.Secret = secret
	w.p.printf("  Generated auth secret (keep it private).\n")

	w.section("Application")
	cfg.App.Name = w.p.Ask("  Name", "FA Wizard")
	cfg.App.BaseURL = w.p.Ask("  Public base URL", "http://localhost:8080")
	cfg.App.SupportEmail = w.p.Ask("  Support email", "")
	cfg.Server.Addr = w.p.Ask("  Listen address", ":8080")

	w.section("Storage")
	cfg.Storage.Driver = w.p.Choose("  Database driver", []string{"sqlite", "postgres"}, 0)
	switch cfg.Storage.Driver {
	case "sqlite":
		cfg.Storage.DSN = w.p.Ask("  SQLite database path", "fawizard.db")
	case "postgres":
		cfg.Storage.DSN = w.p.AskSecret("  PostgreSQL DSN")
	}

	w.section("Sign-in")
	cfg.Auth.AdminEmails = w.p.AskList("  Admin emails (comma separated)")

	w.section("Mail")
	cfg.Mail.Provider = w.p.Choose("  Mail provider", []string{"log", "sendgrid"}, 0)
	if cfg.Mail.Provider == "sendgrid" {
		cfg.Mail.SendgridAPIKey = w.p.AskSecret("  SendGrid API key")
		cfg.Mail.FromAddress = w.p.Ask("  From address", "no-reply@fawizard.com")
	}

	w.section("Billing")
	if w.p.Confirm("  Enable Stripe billing?", false) {
		cfg.Billing.Enabled = true
		cfg.Billing.StripeSecretKey = w.p.AskSecret("  Stripe secret key")
		cfg.Billing.StripeWebhookSecret = w.p.AskSecret("  Stripe webhook signing secret")
		cfg.Billing.Plans = []config.PlanConfig{{
			Name:    w.p.Ask("  Plan name", "FA Wizard"),
			PriceID: w.p.Ask("  Stripe price id", ""),
		}}
		cfg.Billing.Dedupe.Driver = w.p.Choose("  Webhook dedupe", []string{"store", "redis", "none"}, 0)
		if cfg.Billing.Dedupe.Driver == "redis" {
			cfg.Billing.Dedupe.RedisAddr = w.p.Ask("  Redis address", "localhost:6379")
		}
	}

	if outputPath == "" {
		outputPath = w.p.Ask("\nConfig file output path", defaultOutput)
	}
	return w.write(cfg, outputPath)
}

// RunDefaults writes a config without prompting. Secrets come from the
// environment variables config.Load also reads.
func (w *Wizard) RunDefaults(outputPath string, getenv func(string) string) error {
	cfg := &config.Config{}
	cfg.Server.Addr = ":8080"
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.DSN = "fawizard.db"
	cfg.Mail.Provider = "log"

	cfg.Auth.Secret = getenv("FAWIZARD_AUTH_SECRET")
	if cfg.Auth.Secret == "" {
		secret, err := config.GenerateRandomSecret()
		if err != nil {
			return err
		}
		cfg.Auth.Secret = secret
	}
	if getenv("SENDGRID_API_KEY") != "" {
		cfg.Mail.Provider = "sendgrid"
	}
	if v := getenv("ADMIN_EMAILS"); v != "" {
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				cfg.Auth.AdminEmails = append(cfg.Auth.AdminEmails, e)
			}
		}
	}

	if outputPath == "" {
		outputPath = defaultOutput
	}
	return w.write(cfg, outputPath)
}

func (w *Wizard) write(cfg *config.Config, outputPath string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(outputPath, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	w.p.printf("\n  Config written to %s\n\n  Next steps:\n    fawizard run %s\n\n", outputPath, outputPath)
	return nil
}
