package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/moodgrid/blockwell/internal/ingest"
)

func newSweepCmd() *cobra.Command {
	var (
		kindFlag string
		url      string
		priority uint8
	)

	cmd := &cobra.Command{
		Use:   "sweep <source-id>",
		Short: "Enqueue a one-off sweep for a source",
		Long: `Publishes a single sweep job for the given source and exits. By
default the job is a tail sweep of the source's configured listing URL;
--kind selects a backfill (deeper, oldest-first) or manual sweep, and
--url overrides the listing page.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			kind := ingest.RunKind(kindFlag)
			switch kind {
			case ingest.RunKindTail, ingest.RunKindBackfill, ingest.RunKindManual:
			default:
				return fmt.Errorf("unknown sweep kind %q (want tail, backfill or manual)", kindFlag)
			}

			jobID, err := a.Producer().EnqueueSweep(cmd.Context(), args[0], url, kind, priority)
			if err != nil {
				return fmt.Errorf("enqueue sweep: %w", err)
			}
			a.Logger().Info("sweep enqueued",
				zap.String("job_id", jobID),
				zap.String("source_id", args[0]),
				zap.String("kind", string(kind)),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&kindFlag, "kind", string(ingest.RunKindTail), "sweep kind: tail, backfill or manual")
	cmd.Flags().StringVar(&url, "url", "", "listing URL override (defaults to the source's URL)")
	cmd.Flags().Uint8Var(&priority, "priority", 0, "job priority, higher is served first")

	return cmd
}
