package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:         "check",
		Short:       "Load and validate the configuration",
		Annotations: map[string]string{"config": "skip"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(flagConfig)
			if err != nil {
				return err
			}
			if err := c.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			mode := "development"
			if c.Security.ProductionMode {
				mode = "production"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s, %s credentials, %s mail)\n",
				flagConfig, mode, c.Credential.SigningMethod, c.Mail.Transport)
			return nil
		},
	})
	return cmd
}
