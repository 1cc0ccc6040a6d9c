package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/keycortex/walletd/internal/config"
	"github.com/keycortex/walletd/internal/dualstore"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			cfg, err := config.Load(log)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return dualstore.RunMigrations(cfg.DatabaseURL, cfg.PostgresMigrationsDir, log)
		},
	}
}
