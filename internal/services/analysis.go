package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/slideflow/internal/analyzer"
	"github.com/Lllllllleong/slideflow/internal/config"
	"github.com/Lllllllleong/slideflow/internal/gcp"
	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/Lllllllleong/slideflow/internal/pipeline"
)

// AnalysisFunction holds the dependencies for the analysis stage.
type AnalysisFunction struct {
	storageClient *storage.Client
	vertexClient  *gcp.VertexClient
	firestore     *firestore.Client
	tracker       *gcp.RunTracker
	config        *config.Config
}

// NewAnalysis creates a new AnalysisFunction instance.
func NewAnalysis(ctx context.Context) (*AnalysisFunction, error) {
	cfg, err := config.Load(config.GetEnv("SLIDEFLOW_CONFIG", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.RequireVertex(); err != nil {
		return nil, err
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.Vertex.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, cfg.Vertex.ProjectID, cfg.Vertex.Region, cfg.Vertex.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	return &AnalysisFunction{
		storageClient: storageClient,
		vertexClient:  vertexClient,
		firestore:     firestoreClient,
		tracker:       gcp.NewRunTracker(firestoreClient, cfg.Cloud.Collection),
		config:        cfg,
	}, nil
}

// Process analyzes every unresolved slide of the run and writes its artifacts.
// Calling it again for the same run only analyzes what is still unresolved.
func (f *AnalysisFunction) Process(ctx context.Context, req *models.AnalyzeRunRequest) (*models.AnalyzeRunResponse, error) {
	logCtx := slog.With("runId", req.RunID, "executionId", req.ExecutionID)
	logCtx.Info("Starting slide analysis.", "checkpointUri", req.CheckpointURI)

	bucket, object, err := gcp.ParseGCSURI(req.CheckpointURI)
	if err != nil {
		return nil, fmt.Errorf("invalid checkpoint uri: %w", err)
	}
	if err := f.tracker.UpdateStatus(ctx, req.RunID, models.RunStatusAnalyzing, ""); err != nil {
		logCtx.Warn("Failed to update status to ANALYZING.", "error", err)
	}

	p := f.pipelineFor(req, bucket, object, logCtx)
	res, err := p.Analyze(ctx)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, req.RunID, "analysis stage failed", err)
	}

	totals := res.Summary.Totals
	status := "success"
	if res.Report.Stopped() || totals.SlidesPending > 0 {
		status = "partial"
	}
	err = f.tracker.Update(ctx, req.RunID,
		firestore.Update{Path: "status", Value: runStatusFor(status)},
		firestore.Update{Path: "slidesSucceeded", Value: totals.SlidesSucceeded},
		firestore.Update{Path: "slidesFailed", Value: totals.SlidesFailed},
		firestore.Update{Path: "summaryUri", Value: res.Summary.SummaryRef},
	)
	if err != nil {
		logCtx.Error("Failed to record analysis results in Firestore.", "error", err)
	}

	logCtx.Info("Slide analysis complete.", "status", status, "summaryUri", res.Summary.SummaryRef)
	return &models.AnalyzeRunResponse{
		Status:          status,
		SlidesSucceeded: totals.SlidesSucceeded,
		SlidesFailed:    totals.SlidesFailed,
		SlidesPending:   totals.SlidesPending,
		SummaryURI:      res.Summary.SummaryRef,
	}, nil
}

func (f *AnalysisFunction) pipelineFor(req *models.AnalyzeRunRequest, bucket, object string, logCtx *slog.Logger) *pipeline.Pipeline {
	ac := f.config.Analysis
	workers := ac.Workers
	if req.Workers > 0 {
		workers = req.Workers
	}
	artifactsBucket := f.config.Cloud.ArtifactsBucket
	if artifactsBucket == "" {
		artifactsBucket = bucket
	}

	sink := gcp.NewFirestoreOutcomeSink(f.firestore, f.config.Cloud.Collection, req.RunID, logCtx)
	dispatcher := pipeline.NewDispatcher(
		analyzer.NewVertexAnalyzer(f.vertexClient.SlideAnalyzerModel, logCtx),
		sink,
		pipeline.WithWorkers(workers),
		pipeline.WithRetryPolicy(f.config.RetryPolicy()),
		pipeline.WithCallTimeout(ac.CallTimeout),
		pipeline.WithRateLimit(ac.RequestsPerSecond),
		pipeline.WithDispatchLogger(logCtx),
	)
	return &pipeline.Pipeline{
		Store:      gcp.NewCheckpointObject(f.storageClient, bucket, object),
		Sink:       sink,
		Dispatcher: dispatcher,
		Aggregator: pipeline.NewAggregator(gcp.NewArtifactBucket(f.storageClient, artifactsBucket, path.Join("runs", req.RunID, "artifacts")), logCtx),
		Logger:     logCtx,
	}
}

func runStatusFor(status string) string {
	if status == "success" {
		return models.RunStatusCompleted
	}
	return models.RunStatusAnalyzing
}

func (f *AnalysisFunction) handleError(ctx context.Context, logCtx *slog.Logger, runID, message string, originalErr error) error {
	return failRun(ctx, f.tracker, logCtx, runID, message, originalErr)
}
