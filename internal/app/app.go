// Package app wires the fawizard components together and runs the server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/faexperts/fawizard/internal/api"
	"github.com/faexperts/fawizard/internal/auth"
	"github.com/faexperts/fawizard/internal/billing"
	"github.com/faexperts/fawizard/internal/config"
	"github.com/faexperts/fawizard/internal/feed"
	"github.com/faexperts/fawizard/internal/mail"
	"github.com/faexperts/fawizard/internal/registration"
	"github.com/faexperts/fawizard/internal/store"
	"github.com/faexperts/fawizard/internal/validate"
)

const purgeInterval = time.Hour

// App is the fawizard server process.
type App struct {
	cfg         *config.Config
	store       store.Store
	bus         *feed.Bus
	api         *api.Server
	closeDedupe func() error
	logger      *slog.Logger
	now         func() time.Time
}

// New creates the application from configuration. The bus is shared with the
// logging pipeline so log records reach the admin feed.
func New(ctx context.Context, cfg *config.Config, bus *feed.Bus, logger *slog.Logger) (*App, error) {
	db, err := store.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	mailer, err := mail.New(cfg.Mail, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init mail: %w", err)
	}

	authProvider, err := auth.NewProvider(ctx, cfg, db, mailer, bus, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init auth provider: %w", err)
	}
	var loginProvider auth.LoginProvider
	if lp, ok := authProvider.(auth.LoginProvider); ok {
		loginProvider = lp
	}

	closeDedupe := func() error { return nil }
	var billingSvc *billing.Service
	if cfg.Billing.Enabled {
		dedupe, closer, err := billing.NewDeduper(ctx, cfg.Billing.Dedupe, db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init webhook dedupe: %w", err)
		}
		closeDedupe = closer
		billingSvc = billing.NewService(billing.NewStripeAPI(cfg.Billing.StripeSecretKey), db, dedupe, bus, logger, cfg.Billing, cfg.Server.MaxBodyBytes)
	}

	v := validate.New()
	reg := registration.NewService(db, v, bus, logger)
	apiSrv := api.NewServer(db, authProvider, loginProvider, billingSvc, reg, v, bus, cfg, logger)

	a := &App{
		cfg:         cfg,
		store:       db,
		bus:         bus,
		api:         apiSrv,
		closeDedupe: closeDedupe,
		logger:      logger.With("component", "app"),
		now:         time.Now,
	}
	a.warnInsecureDefaults()
	return a, nil
}

func (a *App) warnInsecureDefaults() {
	for _, origin := range a.cfg.Server.AllowedOrigins {
		if origin == "*" {
			a.logger.Warn("CORS allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}
	if !a.cfg.Billing.Enabled {
		a.logger.Warn("billing is disabled, checkout and webhook routes are not mounted")
	}
	if a.cfg.Mail.Provider == "log" {
		a.logger.Warn("mail provider is log, sign-in links are only written to the log")
	}
	if a.cfg.Server.UIStaticDir != "" {
		if _, err := os.Stat(a.cfg.Server.UIStaticDir); os.IsNotExist(err) {
			a.logger.Warn("UI static directory does not exist", "path", a.cfg.Server.UIStaticDir)
		}
	}
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.api.Handler()
}

// Run serves HTTP and runs background maintenance until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.api.StartBackgroundTasks(ctx)
	go a.runPurger(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("fawizard listening", "addr", a.cfg.Server.Addr)
		if a.cfg.Server.TLSCert != "" && a.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(a.cfg.Server.TLSCert, a.cfg.Server.TLSKey)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Feed subscribers hold hijacked connections; closing the bus ends them.
		a.bus.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		}
		a.close()
		a.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		a.close()
		return err
	}
}

func (a *App) close() {
	if err := a.closeDedupe(); err != nil {
		a.logger.Warn("close webhook dedupe", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "error", err)
	}
}

func (a *App) runPurger(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.purge(ctx)
		}
	}
}

// purge removes expired login codes and webhook ids older than the retention.
func (a *App) purge(ctx context.Context) {
	now := a.now()
	if n, err := a.store.PurgeExpiredLoginCodes(ctx, now); err != nil {
		a.logger.Warn("purge login codes failed", "error", err)
	} else if n > 0 {
		a.logger.Info("purged expired login codes", "count", n)
	}

	cutoff := now.Add(-a.cfg.Storage.EventRetention.Duration)
	if n, err := a.store.PurgeOldWebhookEvents(ctx, cutoff); err != nil {
		a.logger.Warn("purge webhook events failed", "error", err)
	} else if n > 0 {
		a.logger.Info("purged old webhook events", "count", n)
	}
}
