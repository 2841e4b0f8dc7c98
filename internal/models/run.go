package models

import "time"

// Run statuses recorded on the Firestore run document.
const (
	RunStatusConverting = "CONVERTING"
	RunStatusConverted  = "CONVERTED"
	RunStatusAnalyzing  = "ANALYZING"
	RunStatusCompleted  = "COMPLETED"
	RunStatusFailed     = "FAILED"
)

// Run represents the main record for one pipeline run in Firestore.
// It tracks the overall status and where each stage left its state.
type Run struct {
	RunID               string    `firestore:"runId,omitempty"`
	SourceObject        string    `firestore:"sourceObject,omitempty"`
	FileHash            string    `firestore:"fileHash,omitempty"`
	Status              string    `firestore:"status,omitempty"`
	ErrorDetails        string    `firestore:"errorDetails,omitempty"`
	DocumentCount       int       `firestore:"documentCount,omitempty"`
	SlideCount          int       `firestore:"slideCount,omitempty"`
	SlidesSucceeded     int       `firestore:"slidesSucceeded,omitempty"`
	SlidesFailed        int       `firestore:"slidesFailed,omitempty"`
	CheckpointURI       string    `firestore:"checkpointUri,omitempty"`
	SummaryURI          string    `firestore:"summaryUri,omitempty"`
	WorkflowExecutionID string    `firestore:"workflowExecutionId,omitempty"` // For traceability
	CreatedAt           time.Time `firestore:"createdAt,omitempty"`
}
