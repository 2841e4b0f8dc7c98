package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/Lllllllleong/slideflow/internal/pipeline"
)

// UserPrompt accompanies every slide image.
const UserPrompt = "Analyze this PowerPoint slide image and return the JSON object described in your instructions."

// contentGenerator is satisfied by *genai.GenerativeModel.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// VertexAnalyzer describes slide images with a Gemini model.
type VertexAnalyzer struct {
	model    contentGenerator
	logger   *slog.Logger
	readFile func(string) ([]byte, error)
}

// NewVertexAnalyzer wraps a configured model.
func NewVertexAnalyzer(model contentGenerator, logger *slog.Logger) *VertexAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &VertexAnalyzer{model: model, logger: logger, readFile: os.ReadFile}
}

// Analyze sends one slide image to the model and parses the structured answer.
// gs:// locators are passed by reference, anything else is read from disk.
func (a *VertexAnalyzer) Analyze(ctx context.Context, imageLocator string) (*models.SlideContent, error) {
	imagePart, err := a.imagePart(imageLocator)
	if err != nil {
		return nil, err
	}

	resp, err := a.model.GenerateContent(ctx, imagePart, genai.Text(UserPrompt))
	if err != nil {
		return nil, classify(fmt.Errorf("failed to generate content from gemini: %w", err))
	}
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return nil, pipeline.Permanent(fmt.Errorf("gemini blocked the response for %s", filepath.Base(imageLocator)))
	}

	text := responseText(resp)
	content, err := parseSlideContent(text)
	if err != nil {
		a.logger.Warn("Unusable model response.", "image", imageLocator, "error", err)
		return nil, pipeline.Permanent(err)
	}
	return content, nil
}

func (a *VertexAnalyzer) imagePart(locator string) (genai.Part, error) {
	mimeType := "image/png"
	format := "png"
	switch strings.ToLower(filepath.Ext(locator)) {
	case ".jpg", ".jpeg":
		mimeType, format = "image/jpeg", "jpeg"
	case ".webp":
		mimeType, format = "image/webp", "webp"
	}
	if strings.HasPrefix(locator, "gs://") {
		return genai.FileData{MIMEType: mimeType, FileURI: locator}, nil
	}
	data, err := a.readFile(locator)
	if err != nil {
		return nil, pipeline.Permanent(fmt.Errorf("failed to read slide image: %w", err))
	}
	return genai.ImageData(format, data), nil
}
