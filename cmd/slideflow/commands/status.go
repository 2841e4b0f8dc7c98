package commands

import (
	"errors"
	"fmt"

	"github.com/Lllllllleong/slideflow/cmd/slideflow/ui"
	"github.com/Lllllllleong/slideflow/internal/pipeline"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how far the current run has progressed",
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := newLocalRun()
		if err != nil {
			return err
		}
		defer run.Close()

		p, err := run.build(cmd.Context(), false)
		if err != nil {
			return err
		}
		cp, t, err := p.Status(cmd.Context())
		if errors.Is(err, pipeline.ErrCheckpointNotFound) {
			fmt.Fprintf(cmd.OutOrStdout(), "No checkpoint at %s.\n", run.store.Path())
			return nil
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run:        %s\n", cp.RunID)
		fmt.Fprintf(out, "Checkpoint: %s (updated %s)\n", run.store.Path(), cp.GeneratedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "Documents:  %d (%d failed), %d roots\n", t.Documents, t.DocumentsFailed, len(cp.Roots))
		fmt.Fprintf(out, "Slides:     %d total, %d succeeded, %d failed, %d pending\n",
			t.Slides, t.SlidesSucceeded, t.SlidesFailed, t.SlidesPending)
		if t.SlidesPending > 0 {
			ui.Warn(out, "%d slides still need analysis.", t.SlidesPending)
		} else {
			ui.Success(out, "Every slide has an outcome.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
