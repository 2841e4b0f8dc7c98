package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// DefaultSlideModel is the Gemini model used for slide analysis.
const DefaultSlideModel = "gemini-1.5-pro"

// --- Slide Analyzer Model Prompts ---
const SlideAnalyzerSystemPrompt = `You are an expert technical document analyzer specializing in problem-cause-solution documentation.
Analyze the provided PowerPoint slide image and extract information in the following categories:

1. title: Main title or heading of the slide
2. problem_symptom: Description of the problem or symptom being discussed
3. cause: Root cause or reasons for the problem
4. countermeasure: Solutions, countermeasures, or action items to address the problem
5. summary: Brief summary of the entire slide content
6. visual_references: Descriptions of any charts, diagrams, tables, or visual elements (as a list)
7. additional_notes: Any other relevant information not covered above
8. confidence_scores: Your confidence level (0-1) for each extracted field

Return the result as a single valid JSON object with exactly these keys. Use an empty string or empty list when a category does not apply.`

// VertexClient holds the pre-configured generative models for slideflow.
type VertexClient struct {
	SlideAnalyzerModel *genai.GenerativeModel
	baseClient         *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultSlideModel
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	slideModel := baseClient.GenerativeModel(modelName)
	slideModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SlideAnalyzerSystemPrompt)},
	}
	slideModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.1),
		MaxOutputTokens:  genai.Ptr[int32](2000),
	}

	return &VertexClient{
		SlideAnalyzerModel: slideModel,
		baseClient:         baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
