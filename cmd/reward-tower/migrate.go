package main

import (
	"fmt"

	"github.com/devblac/reward-tower/internal/config"
	"github.com/devblac/reward-tower/internal/storage"
	"github.com/devblac/reward-tower/internal/storage/postgres"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if cfg.Global.DBDriver == "postgres" {
			if err := postgres.Migrate(cfg.Global.DBDSN); err != nil {
				return err
			}
			v, err := postgres.MigrationVersion(cfg.Global.DBDSN)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "postgres schema at version %d\n", v)
			return nil
		}

		// the sqlite schema is applied when the store opens
		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()
		fmt.Fprintf(out, "sqlite schema applied to %s\n", cfg.Global.DBPath)
		return nil
	},
}
