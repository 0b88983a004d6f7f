package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Enqueue periodic sweeps for due sources",
		Long: `Runs the scheduler loop. Every tick it loads the sources whose next
run time has passed, enqueues a tail sweep for each and advances the
source's next run time by its sweep interval.`,
		RunE: runSchedulerCommand,
	}
}

func runSchedulerCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	a.Logger().Info("scheduler starting")
	if err := a.RunScheduler(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run scheduler: %w", err)
	}
	a.Logger().Info("scheduler stopped")
	return nil
}
