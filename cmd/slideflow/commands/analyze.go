package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Lllllllleong/slideflow/cmd/slideflow/ui"
	"github.com/Lllllllleong/slideflow/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	analyzeWorkers  int
	analyzeProgress bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze every slide in the checkpoint that has no outcome yet",
	Long: `Analyze reads the checkpoint written by convert, sends each unresolved slide
image to the vision model and writes the per-document artifacts and
processing_summary.json to the output directory. Interrupting it lets slides
already in flight finish; running it again picks up the rest.`,
	RunE: runAnalyze,
}

func init() {
	addAnalyzeFlags(analyzeCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func addAnalyzeFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&analyzeWorkers, "workers", "w", 0, "number of concurrent analysis workers (default from config)")
	cmd.Flags().BoolVar(&analyzeProgress, "progress", true, "show a progress bar")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	run, err := newLocalRun()
	if err != nil {
		return err
	}
	defer run.Close()
	return analyzeLocal(ctx, cmd, run)
}

func analyzeLocal(ctx context.Context, cmd *cobra.Command, run *localRun) error {
	if analyzeWorkers > 0 {
		run.cfg.Analysis.Workers = analyzeWorkers
	}
	var observers []pipeline.Observer
	var bar *ui.ProgressBar
	if analyzeProgress {
		bar = ui.NewProgressBar(-1, "analyzing")
		observers = append(observers, bar)
	}

	p, err := run.build(ctx, true, observers...)
	if err != nil {
		return err
	}
	res, err := p.Analyze(ctx)
	if bar != nil {
		bar.Finish()
	}
	if errors.Is(err, pipeline.ErrCheckpointNotFound) {
		return fmt.Errorf("no checkpoint at %s: run convert first", run.store.Path())
	}
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), res)
	return nil
}

func printSummary(w io.Writer, res *pipeline.AnalyzeResult) {
	r := res.Report
	t := res.Summary.Totals
	ui.Info(w, "Slides: %d total, %d analyzed this run (%d ok, %d failed), %d already resolved.",
		r.Total, r.Attempted, r.Succeeded, r.Failed, r.Resolved)
	overall := ui.Success
	if t.SlidesFailed > 0 || t.SlidesPending > 0 {
		overall = ui.Warn
	}
	overall(w, "Overall: %d succeeded, %d failed, %d pending across %d documents.",
		t.SlidesSucceeded, t.SlidesFailed, t.SlidesPending, t.Documents)
	for _, f := range res.Summary.FailedSlides {
		fmt.Fprintf(w, "  failed: %s slide %d after %d attempts: %s\n", f.OwnerKey, f.SlideNumber, f.Attempts, f.Reason)
	}
	if r.Stopped() {
		ui.Warn(w, "Stopped early: %d slides not started. Run analyze again to continue.", r.NotStarted)
	}
	fmt.Fprintf(w, "Summary: %s\n", res.Summary.SummaryRef)
}
