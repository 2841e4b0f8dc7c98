package models

import "time"

// Outcome statuses.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	// OutcomePending only appears in output artifacts, never in the sink.
	OutcomePending = "pending"
)

// SlideContent is the structured description the vision model returns for a slide.
type SlideContent struct {
	Title            string             `json:"title" firestore:"title"`
	ProblemSymptom   string             `json:"problem_symptom" firestore:"problemSymptom"`
	Cause            string             `json:"cause" firestore:"cause"`
	Countermeasure   string             `json:"countermeasure" firestore:"countermeasure"`
	Summary          string             `json:"summary" firestore:"summary"`
	VisualReferences []string           `json:"visual_references" firestore:"visualReferences"`
	AdditionalNotes  string             `json:"additional_notes" firestore:"additionalNotes"`
	ConfidenceScores map[string]float64 `json:"confidence_scores" firestore:"confidenceScores"`
}

// Failure describes why a slide could not be analyzed.
type Failure struct {
	Reason   string `json:"reason" firestore:"reason"`
	Attempts int    `json:"attempts" firestore:"attempts"`
}

// AnalysisOutcome is the terminal result of analyzing one slide.
// Exactly one of Content and Failure is set.
type AnalysisOutcome struct {
	OwnerKey     string        `json:"ownerKey" firestore:"ownerKey"`
	SlideNumber  int           `json:"slideNumber" firestore:"slideNumber"`
	ImageLocator string        `json:"imageLocator" firestore:"imageLocator"`
	Status       string        `json:"status" firestore:"status"`
	Content      *SlideContent `json:"content,omitempty" firestore:"content,omitempty"`
	Failure      *Failure      `json:"failure,omitempty" firestore:"failure,omitempty"`
	Attempts     int           `json:"attempts" firestore:"attempts"`
	CompletedAt  time.Time     `json:"completedAt" firestore:"completedAt"`
}

// ID matches SlideRecord.ID of the analyzed slide.
func (o AnalysisOutcome) ID() string {
	return SlideID(o.OwnerKey, o.SlideNumber)
}

// Succeeded reports whether the outcome carries content.
func (o AnalysisOutcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

// NewSuccess builds a success outcome for slide.
func NewSuccess(slide SlideRecord, content *SlideContent, attempts int, at time.Time) AnalysisOutcome {
	return AnalysisOutcome{
		OwnerKey:     slide.OwnerKey,
		SlideNumber:  slide.SlideNumber,
		ImageLocator: slide.ImageLocator,
		Status:       OutcomeSuccess,
		Content:      content,
		Attempts:     attempts,
		CompletedAt:  at,
	}
}

// NewFailure builds a failure outcome for slide.
func NewFailure(slide SlideRecord, reason string, attempts int, at time.Time) AnalysisOutcome {
	return AnalysisOutcome{
		OwnerKey:     slide.OwnerKey,
		SlideNumber:  slide.SlideNumber,
		ImageLocator: slide.ImageLocator,
		Status:       OutcomeFailure,
		Failure:      &Failure{Reason: reason, Attempts: attempts},
		Attempts:     attempts,
		CompletedAt:  at,
	}
}
