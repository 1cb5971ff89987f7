package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the accounts table",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()

			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrating: %w", err)
			}
			log.Info("accounts table migrated", zap.String("driver", cfg.Database.Driver))
			fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		},
	}
}
