package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/DocBrief/internal/app"
	"github.com/dharsanguruparan/DocBrief/internal/config"
	"github.com/dharsanguruparan/DocBrief/internal/database"
	"github.com/dharsanguruparan/DocBrief/internal/logger"
	"github.com/dharsanguruparan/DocBrief/internal/reconcile"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations using DOCBRIEF_* configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Store.Driver != "postgres" {
				return fmt.Errorf("store %q has no schema", cfg.Store.Driver)
			}
			return database.Migrate(cmd.Context(), cfg.Store.DatabaseURL, logger.New(cfg.Log))
		},
	}
}

func newReconcileCmd() *cobra.Command {
	var includeQueued bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Fail jobs that stopped making progress, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Store.Driver == "memory" {
				return fmt.Errorf("memory store is process local; nothing to reconcile")
			}
			log := logger.New(cfg.Log)
			deps, err := app.Open(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer deps.Close()
			sweeper := reconcile.New(cmd.Context(), deps.Store, cfg.Reconcile.Schedule, cfg.Reconcile.StaleAfter,
				reconcile.Statuses(includeQueued), log)
			n, err := sweeper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "failed %d stale jobs\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeQueued, "include-queued", false, "Also fail stale queued jobs; only safe when no embedded API is running")
	return cmd
}
