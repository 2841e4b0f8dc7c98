package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/slideflow/internal/models"
)

// Renderer turns every slide of a presentation into one image, in slide order.
// It returns an error wrapping ErrRendererUnavailable when it can never succeed.
type Renderer interface {
	RenderAll(ctx context.Context, documentLocator, outputKey string) ([]string, error)
}

// EmbeddedDocument is a child presentation found inside a container.
type EmbeddedDocument struct {
	Locator     string
	DisplayName string
}

// EmbeddedDocumentExtractor lists the presentations embedded directly in a document.
type EmbeddedDocumentExtractor interface {
	Extract(ctx context.Context, documentLocator, outputKey string) ([]EmbeddedDocument, error)
}

// ConversionResult carries what converting one node produced. RenderErr and
// ExtractErr are node-scoped and never abort the walk.
type ConversionResult struct {
	Slides     []models.SlideRecord
	Children   []EmbeddedDocument
	RenderErr  error
	ExtractErr error
}

// ConversionStage renders one node and discovers its embedded documents.
type ConversionStage struct {
	renderer  Renderer
	extractor EmbeddedDocumentExtractor
	store     CheckpointStore
	logger    *slog.Logger
}

// NewConversionStage wires the external collaborators to the checkpoint store.
func NewConversionStage(renderer Renderer, extractor EmbeddedDocumentExtractor, store CheckpointStore, logger *slog.Logger) *ConversionStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversionStage{renderer: renderer, extractor: extractor, store: store, logger: logger}
}

// Convert renders node and extracts its children. Produced slides are written
// to the checkpoint before Convert returns. The returned error is fatal for
// the run: the renderer is unusable, the store failed, or ctx was cancelled.
func (s *ConversionStage) Convert(ctx context.Context, node *models.FileNode) (*ConversionResult, error) {
	logCtx := s.logger.With("nodeKey", node.Key, "depth", node.Depth)
	outputKey := SafeName(node.Key)
	res := &ConversionResult{}

	images, err := s.renderer.RenderAll(ctx, node.Locator, outputKey)
	switch {
	case errors.Is(err, ErrRendererUnavailable):
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		logCtx.Error("Failed to render document.", "locator", node.Locator, "error", err)
		res.RenderErr = err
	default:
		res.Slides = make([]models.SlideRecord, 0, len(images))
		for i, img := range images {
			res.Slides = append(res.Slides, models.SlideRecord{
				OwnerKey:     node.Key,
				SlideNumber:  i + 1,
				ImageLocator: img,
			})
		}
		if err := s.store.AppendSlides(ctx, node.Key, res.Slides); err != nil {
			return nil, fmt.Errorf("failed to checkpoint slides of %s: %w", node.Key, err)
		}
		logCtx.Info("Converted slides to images.", "slideCount", len(res.Slides))
	}

	// Extraction is attempted even when rendering failed: the container may
	// still be readable as an archive.
	children, err := s.extractor.Extract(ctx, node.Locator, outputKey)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		logCtx.Warn("Failed to extract embedded documents.", "error", err)
		res.ExtractErr = err
	}
	res.Children = children
	if len(children) > 0 {
		logCtx.Info("Found embedded documents.", "count", len(children))
	}
	return res, nil
}
