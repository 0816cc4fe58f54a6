package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xela07ax/inboxpilot/internal/app"
)

var unsubFlags struct {
	drain bool
	wait  time.Duration
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe-queue",
	Short: "Inspect or drain pending mail unsubscribe requests",
	Long: `Without flags prints the number of pending mailto unsubscribe requests.
With --drain pops them oldest first and prints one JSON object per line,
for piping into a mail sender.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			if !unsubFlags.drain {
				n, err := a.MailQueue.Pending(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%d pending\n", n)
				return nil
			}

			enc := json.NewEncoder(out)
			for {
				m, err := a.MailQueue.Next(ctx, unsubFlags.wait)
				if err != nil {
					return err
				}
				if m == nil {
					return nil
				}
				if err := enc.Encode(m); err != nil {
					return err
				}
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(unsubscribeCmd)

	unsubscribeCmd.Flags().BoolVar(&unsubFlags.drain, "drain", false, "pop and print all pending requests")
	unsubscribeCmd.Flags().DurationVar(&unsubFlags.wait, "wait", time.Second, "how long to block on an empty queue before exiting")
}
