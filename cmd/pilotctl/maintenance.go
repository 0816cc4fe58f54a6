package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xela07ax/inboxpilot/internal/app"
	"github.com/xela07ax/inboxpilot/internal/policy"
)

var seedFile string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if err := a.DB.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema applied (%s)\n", a.DB.Dialect())
			return nil
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load seed policies from YAML",
	Long: `Load seed policies from a YAML file. Policies whose fingerprint already
exists are skipped, so a policy an operator disabled stays disabled.

Examples:
  # Use engine.seed_policies from config
  pilotctl seed

  # Explicit file
  pilotctl seed --file configs/policies.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			path := seedFile
			if path == "" {
				path = a.Config.Engine.SeedPolicies
			}
			if path == "" {
				return fmt.Errorf("no seed file: pass --file or set engine.seed_policies")
			}
			seeds, err := policy.LoadSeedFile(path)
			if err != nil {
				return err
			}
			n, err := a.Policies.Seed(ctx, seeds)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d policies created\n", n, len(seeds))
			return nil
		})
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay-audit",
	Short: "Rebuild the audit index from the proposal store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			n, err := a.Reconciler.Replay(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d audit entries indexed\n", n)
			return nil
		})
	},
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute-stats",
	Short: "Recompute per-policy approval statistics over the learning window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			n, err := a.Learning.RecomputeWindow(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d policy/user pairs recomputed (window %d days)\n", n, a.Learning.WindowDays())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, seedCmd, replayCmd, recomputeCmd)

	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "seed policies YAML (default: engine.seed_policies)")
}
