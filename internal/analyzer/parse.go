package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/slideflow/internal/models"
)

var errEmptyResponse = errors.New("model returned no text")

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

// extractJSONContent strips markdown fences and any prose around the outermost object.
func extractJSONContent(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

// parseSlideContent decodes the model's answer. Malformed output is permanent:
// the same image produces the same answer again.
func parseSlideContent(raw string) (*models.SlideContent, error) {
	if raw == "" {
		return nil, errEmptyResponse
	}
	lower := strings.ToLower(raw)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) && !strings.Contains(raw, "{") {
			return nil, fmt.Errorf("model refused to analyze the slide: %q", truncate(raw, 200))
		}
	}
	var content models.SlideContent
	if err := json.Unmarshal([]byte(extractJSONContent(raw)), &content); err != nil {
		return nil, fmt.Errorf("failed to parse model output as JSON: %w", err)
	}
	if content.VisualReferences == nil {
		content.VisualReferences = []string{}
	}
	if content.ConfidenceScores == nil {
		content.ConfidenceScores = map[string]float64{}
	}
	return &content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
