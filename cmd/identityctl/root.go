package main

import (
	"fmt"
	"os"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/account"
	"github.com/MrEthical07/goIdentity/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	flagConfig string

	cfg      goIdentity.Config
	log      = zap.NewNop()
	closeLog = func() error { return nil }
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "identityctl",
		Short: "Operate a goIdentity deployment",
		Long: `identityctl runs maintenance tasks for the identity engine.

  identityctl migrate          Create or update the accounts table
  identityctl purge            Clear expired codes and bridge tokens
  identityctl keygen --out k   Write an Ed25519 signing key pair
  identityctl config check     Load and validate the configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["config"] == "skip" {
				return nil
			}
			var err error
			cfg, err = loadConfig(flagConfig)
			if err != nil {
				return err
			}
			logger, closer, err := logging.New(cfg.Log)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			log, closeLog = logger, closer
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return closeLog()
		},
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", envOr("IDENTITY_CONFIG", "identity.yaml"), "Path to the YAML configuration")

	root.AddCommand(newMigrateCmd(), newPurgeCmd(), newKeygenCmd(), newConfigCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func loadConfig(path string) (goIdentity.Config, error) {
	c, err := goIdentity.LoadConfig(path)
	if err != nil {
		return goIdentity.Config{}, fmt.Errorf("loading config: %w", err)
	}
	return c, nil
}

// openStore opens the configured database. The returned closer releases the
// connection pool.
func openStore() (*account.Store, func(), error) {
	if cfg.Database.DSN == "" {
		return nil, nil, fmt.Errorf("database.dsn is not set")
	}
	db, err := account.Open(account.OpenConfig{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Debug:  cfg.Database.Debug,
	})
	if err != nil {
		return nil, nil, err
	}
	return account.NewStore(db), closeDB(db), nil
}

func closeDB(db *gorm.DB) func() {
	return func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
