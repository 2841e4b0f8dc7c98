package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/slideflow/internal/models"
)

// Pipeline owns everything one run needs: the checkpoint, the outcome sink and
// the stage components. Either stage can be run on its own.
type Pipeline struct {
	Store      CheckpointStore
	Sink       OutcomeSink
	Walker     *Walker
	Dispatcher *Dispatcher
	Aggregator *Aggregator
	Logger     *slog.Logger
}

// AnalyzeResult is what a completed analysis stage produced.
type AnalyzeResult struct {
	Report  *DispatchReport
	Summary *models.RunSummary
}

// Convert runs the discovery and conversion stage over roots.
func (p *Pipeline) Convert(ctx context.Context, roots []string) (*models.RunCheckpoint, error) {
	if p.Walker == nil {
		return nil, fmt.Errorf("pipeline has no conversion stage configured")
	}
	return p.Walker.Walk(ctx, roots)
}

// Analyze runs the analysis stage from the stored checkpoint alone and
// writes the output artifacts. A missing checkpoint yields ErrCheckpointNotFound.
func (p *Pipeline) Analyze(ctx context.Context) (*AnalyzeResult, error) {
	logger := p.logger()
	cp, err := p.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	logger.Info("Loaded checkpoint.", "runId", cp.RunID, "nodes", len(cp.Nodes), "slides", len(cp.Slides), "generatedAt", cp.GeneratedAt)

	report, err := p.Dispatcher.Run(ctx, cp)
	if err != nil {
		return &AnalyzeResult{Report: report}, err
	}

	outcomes, err := p.Sink.Load(context.WithoutCancel(ctx))
	if err != nil {
		return &AnalyzeResult{Report: report}, fmt.Errorf("failed to reload outcomes: %w", err)
	}
	p.Aggregator.maxWorkers = p.Dispatcher.Workers()
	summary, err := p.Aggregator.Aggregate(context.WithoutCancel(ctx), cp, outcomes)
	if err != nil {
		return &AnalyzeResult{Report: report}, err
	}
	return &AnalyzeResult{Report: report, Summary: summary}, nil
}

// Status loads the checkpoint and outcomes and aggregates them without writing anything.
func (p *Pipeline) Status(ctx context.Context) (*models.RunCheckpoint, models.RunTotals, error) {
	var totals models.RunTotals
	cp, err := p.Store.Load(ctx)
	if err != nil {
		return nil, totals, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	outcomes, err := p.Sink.Load(ctx)
	if err != nil {
		return cp, totals, fmt.Errorf("failed to load outcomes: %w", err)
	}
	for _, doc := range BuildDocuments(cp, outcomes) {
		totals.Documents++
		if doc.FileInfo.Failed {
			totals.DocumentsFailed++
		}
		succeeded, failed, pending := countSlides(doc)
		totals.Slides += len(doc.Slides)
		totals.SlidesSucceeded += succeeded
		totals.SlidesFailed += failed
		totals.SlidesPending += pending
	}
	return cp, totals, nil
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
