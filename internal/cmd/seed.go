package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/faexperts/fawizard/internal/config"
	"github.com/faexperts/fawizard/internal/store"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [config-file]",
		Short: "Insert demo profiles, schools and contacts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(cmd, args, defaultConfigPath))
			if err != nil {
				return err
			}
			s, err := store.New(cmd.Context(), cfg.Storage)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = s.Close() }()

			return seedDemoData(cmd.Context(), s, cmd.OutOrStdout())
		},
	}
}

var demoProfiles = []store.Profile{
	{ID: "dummy-user-1", Email: "school1@example.com", FirstName: "School One", LastName: "Admin"},
	{ID: "dummy-user-2", Email: "school2@example.com", FirstName: "School Two", LastName: "Admin"},
	{ID: "dummy-admin", Email: "admin@example.com", FirstName: "System", LastName: "Admin", IsAdmin: true},
}

func demoSchools() []store.School {
	return []store.School{
		{
			UserID:          "dummy-user-1",
			FullSchoolName:  "Example High School",
			ShortSchoolName: "EHS",
			StreetAddress:   "123 Education St",
			City:            "Honolulu",
			State:           "HI",
			ZipCode:         "96815",
			PrimaryContact: &store.Contact{
				FullName: "John Smith", Title: "Principal", Email: "john.smith@example.com",
				OfficePhone: "(808) 555-1234", CellPhone: "(808) 555-5678",
			},
			SecondaryContact: &store.Contact{
				FullName: "Jane Doe", Title: "Vice Principal", Email: "jane.doe@example.com",
				OfficePhone: "(808) 555-4321", CellPhone: "(808) 555-9012",
			},
		},
		{
			UserID:          "dummy-user-2",
			FullSchoolName:  "Sample Preparatory Academy",
			ShortSchoolName: "SPA",
			StreetAddress:   "456 Learning Ave",
			City:            "Honolulu",
			State:           "HI",
			ZipCode:         "96816",
			PrimaryContact: &store.Contact{
				FullName: "Robert Johnson", Title: "Head of School", Email: "robert.johnson@example.com",
				OfficePhone: "(808) 555-4321", CellPhone: "(808) 555-8765",
			},
			SecondaryContact: &store.Contact{
				FullName: "Mary Williams", Title: "Dean of Students", Email: "mary.williams@example.com",
				OfficePhone: "(808) 555-6543", CellPhone: "(808) 555-2109",
			},
		},
	}
}

// seedDemoData inserts the demo rows. Rows that already exist are skipped, so
// running it twice is harmless.
func seedDemoData(ctx context.Context, s store.Store, out io.Writer) error {
	for _, p := range demoProfiles {
		if err := s.CreateProfile(ctx, &p); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				_, _ = fmt.Fprintf(out, "profile %s exists, skipped\n", p.Email)
				continue
			}
			return fmt.Errorf("create profile %s: %w", p.Email, err)
		}
		_, _ = fmt.Fprintf(out, "created profile %s\n", p.Email)
	}

	for _, school := range demoSchools() {
		if err := s.RegisterSchool(ctx, &school); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				_, _ = fmt.Fprintf(out, "school %q exists, skipped\n", school.FullSchoolName)
				continue
			}
			return fmt.Errorf("register %s: %w", school.FullSchoolName, err)
		}
		_, _ = fmt.Fprintf(out, "registered %s\n", school.FullSchoolName)
	}
	return nil
}
