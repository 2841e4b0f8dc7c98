// Package ui provides terminal output for the slideflow CLI.
package ui

import (
	"fmt"
	"os"

	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/Lllllllleong/slideflow/internal/pipeline"
	"github.com/schollz/progressbar/v3"
)

// ProgressBar renders dispatcher progress. It implements pipeline.Observer.
type ProgressBar struct {
	bar *progressbar.ProgressBar
}

// NewProgressBar creates a bar for total slides.
func NewProgressBar(total int64, description string) *ProgressBar {
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("slides"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &ProgressBar{bar: bar}
}

func (p *ProgressBar) OnOutcome(_ models.AnalysisOutcome, snap pipeline.ProgressSnapshot) {
	if snap.Total != p.bar.GetMax64() {
		p.bar.ChangeMax64(snap.Total)
	}
	p.bar.Describe(fmt.Sprintf("analyzing (%d failed)", snap.Failed))
	_ = p.bar.Set64(snap.Completed)
}

// Finish completes the bar.
func (p *ProgressBar) Finish() {
	_ = p.bar.Finish()
}
