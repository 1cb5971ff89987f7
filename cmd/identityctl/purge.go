package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newPurgeCmd() *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Clear expired codes and bridge tokens",
		Long: `purge clears every email verification, password reset, and login code
slot, and every bridge token, whose expiry has passed. Expired slots are
already rejected at verification time; purge only reclaims them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()

			cutoff := time.Now().Add(-grace)
			n, err := store.PurgeExpired(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("purging: %w", err)
			}
			log.Info("expired slots purged", zap.Int64("slots", n), zap.Time("cutoff", cutoff))
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d slots\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 0, "Only purge slots that expired at least this long ago")
	return cmd
}
