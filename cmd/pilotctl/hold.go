package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xela07ax/inboxpilot/internal/app"
)

var holdRelease bool

var holdCmd = &cobra.Command{
	Use:   "hold [user_id|*]",
	Short: "Show, set or release execution holds",
	Long: `A hold stops approved actions from reaching the mailbox: they are recorded
as failed instead. "*" holds every user. Running instances pick the change up
through Redis Pub/Sub.

Examples:
  # List active holds
  pilotctl hold

  # Emergency stop for everyone
  pilotctl hold '*'

  # Release one user
  pilotctl hold u-42 --release`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if err := a.Holds.Init(ctx); err != nil {
				return err
			}
			if len(args) == 1 {
				if err := a.Holds.Set(ctx, args[0], !holdRelease); err != nil {
					return err
				}
			}
			for _, s := range a.Holds.List() {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(holdCmd)

	holdCmd.Flags().BoolVar(&holdRelease, "release", false, "release the hold instead of setting it")
}
