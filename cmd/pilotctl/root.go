package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/inboxpilot/internal/app"
	"github.com/xela07ax/inboxpilot/internal/infra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "pilotctl",
	Short: "InboxPilot maintenance CLI",
	Long: `pilotctl runs maintenance operations against the same database and Redis
the console API uses: schema migration, policy seeding, audit index replay,
learning statistics recompute and the mail unsubscribe queue.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: ./config.yaml or ./configs/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// withApp собирает ядро, выполняет fn и освобождает ресурсы
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := infra.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Logger.Level = "debug"
	}
	cfg.Logger.Format = "console"

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		logger.Debug("command failed", zap.Error(err))
		return err
	}
	return nil
}
