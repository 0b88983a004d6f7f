// Package cmd defines the CLI commands for the blockwell executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/moodgrid/blockwell/internal/app"
	"github.com/moodgrid/blockwell/internal/config"
	"github.com/moodgrid/blockwell/internal/queue"
)

var cfgFile string

// appKeyType keys the App instance in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of the application the commands use. Tests swap in
// a fake via the newApp factory.
type App interface {
	Close()
	Logger() *zap.Logger
	Producer() *queue.Producer
	InitWorker(ctx context.Context) error
	RunWorker(ctx context.Context) error
	RunScheduler(ctx context.Context) error
}

// newApp builds the real application. Replaced in command tests.
var newApp = func(ctx context.Context) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blockwell",
		Short: "Ingestion worker for block sources",
		Long: `blockwell discovers items on rendered listing pages, fans them out
over a job queue and persists each item's media and metadata. It runs
either as a worker consuming jobs or as the scheduler enqueueing
periodic sweeps.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(App); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment is used when unset)")

	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newSchedulerCmd())
	cmd.AddCommand(newSweepCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	a, ok := ctx.Value(appKey).(App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context
// so long-running commands shut down gracefully.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
