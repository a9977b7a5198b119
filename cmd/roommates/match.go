package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meetsmatch/roommates/internal/database"
	"github.com/meetsmatch/roommates/internal/services"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

var generateCmd = &cobra.Command{
	Use:   "generate [profile-id...]",
	Short: "Generate and store matches for profiles",
	Long: "Generate scores every eligible candidate for the given profiles and stores the new matches.\n" +
		"With --all it runs for every active profile.",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		workers, _ := cmd.Flags().GetInt("workers")
		if !all && len(args) == 0 {
			return errors.New("pass at least one profile id or --all")
		}
		return generate(cmd.Context(), cmd.OutOrStdout(), args, all, workers)
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score <profile-a> <profile-b>",
	Short: "Print the compatibility of two profiles",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return score(cmd.Context(), cmd.OutOrStdout(), args[0], args[1])
	},
}

func init() {
	generateCmd.Flags().Bool("all", false, "generate for every active profile")
	generateCmd.Flags().IntP("workers", "w", 4, "profiles processed concurrently")

	rootCmd.AddCommand(generateCmd, scoreCmd)
}

func newCLIService(ctx context.Context) (*services.MatchingService, *backend, error) {
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	svc := services.NewMatchingService(services.MatchingDeps{
		Profiles: b.profiles,
		Store:    b.store,
		Issuer:   b.issuer,
	}, cfg.Matching)
	return svc, b, nil
}

type generateResult struct {
	ProfileID string           `json:"profile_id"`
	Matches   []database.Match `json:"matches"`
}

func generate(ctx context.Context, out io.Writer, profileIDs []string, all bool, workers int) error {
	ctx = telemetry.WithCorrelationID(ctx, telemetry.NewCorrelationID())
	logger := telemetry.GetContextualLogger(ctx).WithField("operation", "cli_generate")

	svc, b, err := newCLIService(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	if all {
		profiles, err := b.profiles.ListActiveProfiles(ctx)
		if err != nil {
			return fmt.Errorf("failed to list profiles: %w", err)
		}
		profileIDs = profileIDs[:0]
		for _, p := range profiles {
			profileIDs = append(profileIDs, p.ID)
		}
	}
	if workers < 1 {
		workers = 1
	}

	results := make([]generateResult, len(profileIDs))
	var mu sync.Mutex
	total := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range profileIDs {
		g.Go(func() error {
			matches, err := svc.GenerateMatches(gctx, id)
			if err != nil {
				return fmt.Errorf("profile %s: %w", id, err)
			}
			results[i] = generateResult{ProfileID: id, Matches: matches}

			mu.Lock()
			total += len(matches)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"profiles": len(profileIDs),
		"stored":   total,
	}).Info("Match generation finished")
	return writeJSON(out, results)
}

type scoreResult struct {
	ProfileA  string             `json:"profile_a"`
	ProfileB  string             `json:"profile_b"`
	Score     int                `json:"score"`
	Breakdown database.Breakdown `json:"breakdown"`
}

func score(ctx context.Context, out io.Writer, a, b string) error {
	svc, backend, err := newCLIService(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	m, err := svc.ScorePair(ctx, a, b)
	if err != nil {
		return err
	}
	return writeJSON(out, scoreResult{ProfileA: a, ProfileB: b, Score: m.Score, Breakdown: m.Breakdown})
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
