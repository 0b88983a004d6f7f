package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume sweep and item jobs",
		Long: `Runs the queue consumers: sweep jobs render a source's listing page
and enqueue an item job per newly discovered item, item jobs scrape one
item each and persist its media and metadata.`,
		RunE: runWorkerCommand,
	}
}

func runWorkerCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := a.InitWorker(cmd.Context()); err != nil {
		return fmt.Errorf("init worker services: %w", err)
	}

	a.Logger().Info("worker starting")
	if err := a.RunWorker(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run worker: %w", err)
	}
	a.Logger().Info("worker stopped")
	return nil
}
