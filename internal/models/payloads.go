package models

// These structs define the JSON payloads exchanged between the Cloud Workflow
// and the slide functions.

// AnalysisWorkflowArgument is the argument the converter passes to the workflow.
type AnalysisWorkflowArgument struct {
	RunID         string `json:"runId"`
	CheckpointURI string `json:"checkpointUri"`
	SlideCount    int    `json:"slideCount"`
}

// AnalyzeRunRequest is the input for the slide-analyzer function.
type AnalyzeRunRequest struct {
	RunID         string `json:"runId"`
	CheckpointURI string `json:"checkpointUri"`
	Workers       int    `json:"workers,omitempty"`
	ExecutionID   string `json:"executionId"`
}

// AnalyzeRunResponse is the output of the slide-analyzer function.
type AnalyzeRunResponse struct {
	Status          string `json:"status"`
	SlidesSucceeded int    `json:"slidesSucceeded"`
	SlidesFailed    int    `json:"slidesFailed"`
	SlidesPending   int    `json:"slidesPending"`
	SummaryURI      string `json:"summaryUri"`
}
