package commands

import (
	"fmt"

	"github.com/Lllllllleong/slideflow/cmd/slideflow/ui"
	"github.com/Lllllllleong/slideflow/internal/pipeline"
	"github.com/spf13/cobra"
)

var convertCmd = &cobra.Command{
	Use:   "convert [paths...]",
	Short: "Render every slide of the given presentations and record them in the checkpoint",
	Long: `Convert walks the given files and directories (default: the configured input
directory), follows embedded presentations and renders every slide to PNG.
Documents already converted in the checkpoint are skipped, so an interrupted
conversion can simply be run again.`,
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	run, err := newLocalRun()
	if err != nil {
		return err
	}
	defer run.Close()

	inputs := args
	if len(inputs) == 0 {
		inputs = []string{run.cfg.Paths.InputDir}
	}
	roots, err := pipeline.DiscoverRoots(inputs)
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		return fmt.Errorf("no presentations found in %v", inputs)
	}

	p, err := run.build(ctx, false)
	if err != nil {
		return err
	}
	spin := ui.NewSpinner(fmt.Sprintf("converting %d presentations", len(roots)))
	spin.Start()
	cp, err := p.Convert(ctx, roots)
	spin.Stop()
	if err != nil {
		return fmt.Errorf("conversion stopped: %w", err)
	}

	failed := 0
	for _, n := range cp.Nodes {
		if n.Failed {
			failed++
		}
	}
	report := ui.Success
	if failed > 0 {
		report = ui.Warn
	}
	report(cmd.OutOrStdout(), "Converted %d documents (%d failed), %d slides. Checkpoint: %s",
		len(cp.Nodes), failed, len(cp.Slides), run.store.Path())
	return nil
}
