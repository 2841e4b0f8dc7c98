package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/slideflow/internal/config"
	"github.com/Lllllllleong/slideflow/internal/gcp"
	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/Lllllllleong/slideflow/internal/pipeline"
	"github.com/Lllllllleong/slideflow/internal/render"
	"github.com/google/uuid"
)

// CheckpointObjectName is where the checkpoint of a run lives in the slides bucket.
func CheckpointObjectName(runID string) string {
	return path.Join("runs", runID, "checkpoint.json")
}

type ConverterFunction struct {
	storageClient    *storage.Client
	firestoreClient  *firestore.Client
	executionsClient *executions.Client
	tracker          *gcp.RunTracker
	config           *config.Config
}

type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func NewConverter(ctx context.Context) (*ConverterFunction, error) {
	cfg, err := config.Load(config.GetEnv("SLIDEFLOW_CONFIG", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Vertex.ProjectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if cfg.Cloud.SlidesBucket == "" {
		return nil, fmt.Errorf("SLIDES_BUCKET environment variable must be set")
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.Vertex.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	executionsClient, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}

	f := &ConverterFunction{
		storageClient:    storageClient,
		firestoreClient:  firestoreClient,
		executionsClient: executionsClient,
		tracker:          gcp.NewRunTracker(firestoreClient, cfg.Cloud.Collection),
		config:           cfg,
	}
	slog.Info("Slide converter logic initialized.", "workflowId", cfg.Cloud.WorkflowID, "slidesBucket", cfg.Cloud.SlidesBucket)
	return f, nil
}

// Process runs the conversion stage for one uploaded presentation and hands
// the run to the analysis workflow.
func (f *ConverterFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !pipeline.IsPresentation(e.Name) {
		logCtx.Info("Object is not a presentation. Skipping.")
		return nil
	}
	logCtx.Info("Processing new GCS object.")

	tempDir, err := os.MkdirTemp("", "slide-converter-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, filepath.Base(e.Name))
	if err := gcp.DownloadObject(ctx, f.storageClient, e.Bucket, e.Name, sourcePath); err != nil {
		logCtx.Error("Failed to download source presentation", "error", err)
		return err
	}

	fileHash, err := pipeline.FileHash(sourcePath)
	if err != nil {
		logCtx.Error("Failed to calculate file hash", "error", err)
		return fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("fileHash", fileHash)

	existingRunID, isDuplicate, err := f.tracker.FindByHash(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if isDuplicate {
		logCtx.Info("Duplicate file detected. Skipping.", "existingRunId", existingRunID)
		return nil
	}

	runID := uuid.NewString()
	checkpointObject := CheckpointObjectName(runID)
	run := models.Run{
		RunID:         runID,
		SourceObject:  gcp.GCSURI(e.Bucket, e.Name),
		FileHash:      fileHash,
		Status:        models.RunStatusConverting,
		CheckpointURI: gcp.GCSURI(f.config.Cloud.SlidesBucket, checkpointObject),
	}
	if err := f.tracker.Create(ctx, run); err != nil {
		logCtx.Error("Failed to create initial Firestore document", "error", err)
		return err
	}
	logCtx = logCtx.With("runId", runID)
	logCtx.Info("Created run document in Firestore.")

	cp, err := f.convert(ctx, logCtx, runID, checkpointObject, sourcePath, tempDir)
	if err != nil {
		return f.handleError(ctx, logCtx, runID, "conversion stage failed", err)
	}

	err = f.tracker.Update(ctx, runID,
		firestore.Update{Path: "status", Value: models.RunStatusConverted},
		firestore.Update{Path: "documentCount", Value: len(cp.Nodes)},
		firestore.Update{Path: "slideCount", Value: len(cp.Slides)},
	)
	if err != nil {
		return f.handleError(ctx, logCtx, runID, "failed to update status to CONVERTED", err)
	}

	if err := f.triggerWorkflow(ctx, logCtx, run, len(cp.Slides)); err != nil {
		return err
	}
	logCtx.Info("Hand-off to workflow complete.", "documents", len(cp.Nodes), "slides", len(cp.Slides))
	return nil
}

func (f *ConverterFunction) convert(ctx context.Context, logCtx *slog.Logger, runID, checkpointObject, sourcePath, tempDir string) (*models.RunCheckpoint, error) {
	workDir := filepath.Join(tempDir, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	cc := f.config.Conversion
	office := render.NewOfficeConverter(cc.SofficePath, filepath.Join(tempDir, "office-profile"), cc.OfficeTimeout, logCtx)
	renderer := gcp.NewUploadingRenderer(
		render.NewSlideRenderer(office, workDir, render.WithDPI(cc.DPI), render.WithLogger(logCtx)),
		f.storageClient, f.config.Cloud.SlidesBucket, path.Join("runs", runID), logCtx,
	)
	store := gcp.NewCheckpointObject(f.storageClient, f.config.Cloud.SlidesBucket, checkpointObject)
	stage := pipeline.NewConversionStage(renderer, render.NewZipExtractor(workDir, logCtx), store, logCtx)
	walker := pipeline.NewWalker(stage, store,
		pipeline.WithRunID(runID),
		pipeline.WithMaxDepth(cc.MaxDepth),
		pipeline.WithWalkLogger(logCtx),
	)
	p := &pipeline.Pipeline{Store: store, Walker: walker, Logger: logCtx}
	return p.Convert(ctx, []string{sourcePath})
}

func (f *ConverterFunction) triggerWorkflow(ctx context.Context, logCtx *slog.Logger, run models.Run, slideCount int) error {
	logCtx.Info("Triggering workflow.")
	payloadBytes, err := json.Marshal(models.AnalysisWorkflowArgument{
		RunID:         run.RunID,
		CheckpointURI: run.CheckpointURI,
		SlideCount:    slideCount,
	})
	if err != nil {
		return f.handleError(ctx, logCtx, run.RunID, "failed to marshal workflow payload", err)
	}
	cloud := f.config.Cloud
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", f.config.Vertex.ProjectID, cloud.WorkflowLocation, cloud.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	execution, err := f.executionsClient.CreateExecution(ctx, req)
	if err != nil {
		return f.handleError(ctx, logCtx, run.RunID, "failed to trigger workflow execution", err)
	}
	if err := f.tracker.Update(ctx, run.RunID, firestore.Update{Path: "workflowExecutionId", Value: execution.GetName()}); err != nil {
		logCtx.Warn("Failed to record workflow execution id.", "error", err)
	}
	return nil
}

func (f *ConverterFunction) handleError(ctx context.Context, logCtx *slog.Logger, runID, message string, originalErr error) error {
	return failRun(ctx, f.tracker, logCtx, runID, message, originalErr)
}
