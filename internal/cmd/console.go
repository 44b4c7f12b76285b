package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faexperts/fawizard/internal/config"
	"github.com/faexperts/fawizard/internal/console"
	"github.com/faexperts/fawizard/internal/store"
)

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console [config-file]",
		Short: "Browse profiles and schools and manage admins in the terminal",
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

			return console.Run(cmd.Context(), s)
		},
	}
}
