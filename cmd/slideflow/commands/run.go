package commands

import (
	"fmt"

	"github.com/Lllllllleong/slideflow/internal/pipeline"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [paths...]",
	Short: "Convert and then analyze in one go",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		run, err := newLocalRun()
		if err != nil {
			return err
		}
		defer run.Close()
		if err := run.cfg.RequireVertex(); err != nil {
			return err
		}

		inputs := args
		if len(inputs) == 0 {
			inputs = []string{run.cfg.Paths.InputDir}
		}
		roots, err := pipeline.DiscoverRoots(inputs)
		if err != nil {
			return err
		}
		p, err := run.build(ctx, false)
		if err != nil {
			return err
		}
		cp, err := p.Convert(ctx, roots)
		if err != nil {
			return fmt.Errorf("conversion stopped: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Converted %d documents, %d slides.\n", len(cp.Nodes), len(cp.Slides))
		return analyzeLocal(ctx, cmd, run)
	},
}

func init() {
	addAnalyzeFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
