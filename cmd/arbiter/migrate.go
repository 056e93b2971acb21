package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/postgres"
)

func newMigrateCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	dsn := func(cmd *cobra.Command) (string, error) {
		cfg, err := g.load(cmd)
		if err != nil {
			return "", err
		}
		if cfg.Postgres.DSN == "" {
			return "", errors.New("postgres.dsn is not configured")
		}
		return cfg.Postgres.DSN, nil
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := dsn(cmd)
			if err != nil {
				return err
			}
			if err := postgres.RunMigrations(cmd.Context(), d); err != nil {
				return err
			}
			return printVersion(cmd, d)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be >= 1, got %d", steps)
			}
			d, err := dsn(cmd)
			if err != nil {
				return err
			}
			if err := postgres.RollbackMigrations(cmd.Context(), d, steps); err != nil {
				return err
			}
			return printVersion(cmd, d)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := dsn(cmd)
			if err != nil {
				return err
			}
			return printVersion(cmd, d)
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

func printVersion(cmd *cobra.Command, dsn string) error {
	v, err := postgres.MigrationVersion(cmd.Context(), dsn)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
	return err
}
