package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Lllllllleong/slideflow/internal/analyzer"
	"github.com/Lllllllleong/slideflow/internal/config"
	"github.com/Lllllllleong/slideflow/internal/gcp"
	"github.com/Lllllllleong/slideflow/internal/pipeline"
	"github.com/Lllllllleong/slideflow/internal/render"
)

// localRun wires the pipeline for a run whose state lives on the local disk.
type localRun struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *pipeline.FileStore
	sink   *pipeline.JSONLSink
	vertex *gcp.VertexClient
}

func newLocalRun() (*localRun, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := slog.Default().With("checkpoint", cfg.Paths.CheckpointPath)
	return &localRun{
		cfg:    cfg,
		logger: logger,
		store:  pipeline.NewFileStore(cfg.Paths.CheckpointPath),
		sink:   pipeline.NewJSONLSink(cfg.Paths.OutcomesPath, logger),
	}, nil
}

func (r *localRun) Close() error {
	var err error
	if r.vertex != nil {
		err = r.vertex.Close()
	}
	if serr := r.sink.Close(); err == nil {
		err = serr
	}
	return err
}

// build wires the run context. The analysis components, which need Vertex
// credentials, are only built when analyze is set.
func (r *localRun) build(ctx context.Context, analyze bool, observers ...pipeline.Observer) (*pipeline.Pipeline, error) {
	p := &pipeline.Pipeline{
		Store:  r.store,
		Sink:   r.sink,
		Logger: r.logger,
		Walker: r.walker(),
	}
	if !analyze {
		return p, nil
	}
	dispatcher, err := r.dispatcher(ctx, observers)
	if err != nil {
		return nil, err
	}
	p.Dispatcher = dispatcher
	p.Aggregator = pipeline.NewAggregator(pipeline.NewDirWriter(r.cfg.Paths.OutputDir), r.logger)
	return p, nil
}

func (r *localRun) walker() *pipeline.Walker {
	cc := r.cfg.Conversion
	workDir := r.cfg.Paths.WorkDir
	office := render.NewOfficeConverter(cc.SofficePath, filepath.Join(workDir, ".office-profile"), cc.OfficeTimeout, r.logger)
	renderer := render.NewSlideRenderer(office, workDir, render.WithDPI(cc.DPI), render.WithLogger(r.logger))
	stage := pipeline.NewConversionStage(renderer, render.NewZipExtractor(workDir, r.logger), r.store, r.logger)
	return pipeline.NewWalker(stage, r.store,
		pipeline.WithMaxDepth(cc.MaxDepth),
		pipeline.WithWalkLogger(r.logger),
	)
}

func (r *localRun) dispatcher(ctx context.Context, observers []pipeline.Observer) (*pipeline.Dispatcher, error) {
	if err := r.cfg.RequireVertex(); err != nil {
		return nil, err
	}
	vertex, err := gcp.NewVertexClient(ctx, r.cfg.Vertex.ProjectID, r.cfg.Vertex.Region, r.cfg.Vertex.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	r.vertex = vertex

	ac := r.cfg.Analysis
	opts := []pipeline.DispatcherOption{
		pipeline.WithWorkers(ac.Workers),
		pipeline.WithRetryPolicy(r.cfg.RetryPolicy()),
		pipeline.WithCallTimeout(ac.CallTimeout),
		pipeline.WithRateLimit(ac.RequestsPerSecond),
		pipeline.WithDispatchLogger(r.logger),
	}
	for _, o := range observers {
		if o != nil {
			opts = append(opts, pipeline.WithObserver(o))
		}
	}
	return pipeline.NewDispatcher(analyzer.NewVertexAnalyzer(vertex.SlideAnalyzerModel, r.logger), r.sink, opts...), nil
}

// signalContext is cancelled by the first SIGINT or SIGTERM. Cancellation
// stops new work from starting; work already running is allowed to finish.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
