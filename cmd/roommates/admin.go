package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meetsmatch/roommates/internal/config"
	"github.com/meetsmatch/roommates/internal/database"
	"github.com/meetsmatch/roommates/internal/middleware"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the tables of the configured store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		b, err := openBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		if err := b.migrate(ctx); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		telemetry.GetContextualLogger(ctx).WithField("driver", cfg.Store.Driver).Info("Migration complete")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed <profiles.json>",
	Short: "Upsert profiles from a JSON file into PostgreSQL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Store.Driver != config.DriverPostgres {
			return errors.New("seed needs the postgres store driver")
		}
		profiles, err := database.ReadProfilesFile(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		b, err := openBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		repo := database.NewProfileRepository(b.db)
		for i := range profiles {
			if err := repo.UpsertProfile(ctx, &profiles[i]); err != nil {
				return fmt.Errorf("profile %q: %w", profiles[i].ID, err)
			}
		}
		telemetry.GetContextualLogger(ctx).WithField("profiles", len(profiles)).Info("Profiles seeded")
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <profile-id>",
	Short: "Issue a bearer token acting as a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		auth, err := middleware.NewJWTAuth(cfg.Auth)
		if err != nil {
			return err
		}
		token, err := auth.IssueToken(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, seedCmd, tokenCmd)
}
