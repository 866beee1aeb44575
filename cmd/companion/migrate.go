package main

import (
	"fmt"

	"companion-service/internal/repository"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.Database.Type != "postgres" {
				return fmt.Errorf("migrate only applies to database.type postgres, got %q", cfg.Database.Type)
			}

			db, err := repository.NewPostgresDB(cfg.Database.URL, logger)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			return repository.MigrateDB(db, cfg.Database.MigrationsPath, logger)
		},
	}
}
