package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/faexperts/fawizard/internal/config"
	"github.com/faexperts/fawizard/internal/feed"
	"github.com/faexperts/fawizard/internal/store"
)

func TestVersion(t *testing.T) {
	root := NewRootCmd("1.2.3")
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "fawizard 1.2.3" {
		t.Fatalf("version output = %q", got)
	}
}

func TestResolveConfigPath(t *testing.T) {
	root := NewRootCmd("dev")
	run, _, err := root.Find([]string{"run"})
	if err != nil {
		t.Fatal(err)
	}

	if got := resolveConfigPath(run, nil, "default.json"); got != "default.json" {
		t.Errorf("default: got %q", got)
	}
	if err := root.PersistentFlags().Set("config", "flag.json"); err != nil {
		t.Fatal(err)
	}
	if got := resolveConfigPath(run, nil, "default.json"); got != "flag.json" {
		t.Errorf("flag: got %q", got)
	}
	if got := resolveConfigPath(run, []string{"arg.json"}, "default.json"); got != "arg.json" {
		t.Errorf("positional: got %q", got)
	}
}

func TestInitDefaultsWritesLoadableConfig(t *testing.T) {
	t.Setenv("FAWIZARD_AUTH_SECRET", "")
	t.Setenv("SENDGRID_API_KEY", "")
	t.Setenv("ADMIN_EMAILS", "admin@example.com")

	path := filepath.Join(t.TempDir(), "fawizard.json")
	root := NewRootCmd("dev")
	root.SetArgs([]string{"init", "--defaults", "--output", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if !cfg.Auth.IsAdminEmail("admin@example.com") {
		t.Errorf("admin emails = %v", cfg.Auth.AdminEmails)
	}
}

func TestSeedDemoData(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()

	out := &bytes.Buffer{}
	if err := seedDemoData(ctx, s, out); err != nil {
		t.Fatalf("seed: %v", err)
	}

	profiles, err := s.ListProfiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 3 {
		t.Fatalf("expected 3 profiles, got %d", len(profiles))
	}
	admin, err := s.GetProfile(ctx, "dummy-admin")
	if err != nil || admin == nil || !admin.IsAdmin {
		t.Fatalf("expected seeded admin, got %+v, %v", admin, err)
	}

	schools, err := s.ListSchools(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(schools) != 2 {
		t.Fatalf("expected 2 schools, got %d", len(schools))
	}
	for _, sc := range schools {
		if sc.PrimaryContact == nil || sc.SecondaryContact == nil {
			t.Errorf("school %s missing contacts", sc.FullSchoolName)
		}
	}

	// A second run skips everything.
	out.Reset()
	if err := seedDemoData(ctx, s, out); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if strings.Contains(out.String(), "created") || strings.Contains(out.String(), "registered") {
		t.Fatalf("second run inserted rows:\n%s", out.String())
	}
	contacts, err := s.ListContacts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 4 {
		t.Fatalf("expected 4 contacts after re-seed, got %d", len(contacts))
	}
}

func TestNewLoggerPublishesWarnings(t *testing.T) {
	bus := feed.New()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	buf := &bytes.Buffer{}
	logger := newLogger(config.LoggingConfig{Level: "info", Format: "text"}, buf, bus)
	logger.Info("routine")
	logger.Warn("something odd")

	if !strings.Contains(buf.String(), "routine") || !strings.Contains(buf.String(), "something odd") {
		t.Fatalf("log output missing records: %q", buf.String())
	}
	select {
	case <-ch:
	default:
		t.Fatal("expected the warning on the feed")
	}
	select {
	case e := <-ch:
		t.Fatalf("info record should not reach the feed, got %s", e.Type)
	default:
	}
}

func TestLoadDotenv(t *testing.T) {
	if err := loadDotenv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("FAWIZARD_TEST_DOTENV=loaded\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FAWIZARD_TEST_DOTENV", "")
	_ = os.Unsetenv("FAWIZARD_TEST_DOTENV")
	if err := loadDotenv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("FAWIZARD_TEST_DOTENV"); got != "loaded" {
		t.Fatalf("env = %q, want loaded", got)
	}
}
