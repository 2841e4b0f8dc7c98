package models

import "time"

// DocumentInfo is the file block of a per-document artifact.
type DocumentInfo struct {
	Key            string   `json:"key"`
	Filename       string   `json:"filename"`
	ParentKey      string   `json:"parentKey,omitempty"`
	Depth          int      `json:"depth"`
	SlideCount     int      `json:"slideCount"`
	ChildDocuments []string `json:"childDocuments"`
	Failed         bool     `json:"failed"`
	Error          string   `json:"error,omitempty"`
}

// SlideEntry is one slide of a per-document artifact.
type SlideEntry struct {
	SlideNumber int                `json:"slideNumber"`
	ImageRef    string             `json:"imageRef"`
	Status      string             `json:"status"`
	Content     *SlideContent      `json:"content,omitempty"`
	Confidence  map[string]float64 `json:"confidence,omitempty"`
	Failure     *Failure           `json:"failure,omitempty"`
}

// DocumentArtifact is the analysis output for one FileNode.
type DocumentArtifact struct {
	FileInfo DocumentInfo `json:"fileInfo"`
	Slides   []SlideEntry `json:"slides"`
}

// RunTotals are the run-level counters of a summary.
type RunTotals struct {
	Documents       int `json:"documents"`
	DocumentsFailed int `json:"documentsFailed"`
	Slides          int `json:"slides"`
	SlidesSucceeded int `json:"slidesSucceeded"`
	SlidesFailed    int `json:"slidesFailed"`
	SlidesPending   int `json:"slidesPending"`
}

// NodeSummary is one row of the hierarchy table in a summary.
type NodeSummary struct {
	Key             string   `json:"key"`
	Filename        string   `json:"filename"`
	ParentKey       string   `json:"parentKey,omitempty"`
	Depth           int      `json:"depth"`
	SlideCount      int      `json:"slideCount"`
	Children        []string `json:"children"`
	Failed          bool     `json:"failed"`
	Error           string   `json:"error,omitempty"`
	SlidesSucceeded int      `json:"slidesSucceeded"`
	SlidesFailed    int      `json:"slidesFailed"`
	ArtifactRef     string   `json:"artifactRef"`
}

// RootRollup counts a top-level input together with everything embedded in it.
type RootRollup struct {
	Key                          string `json:"key"`
	Filename                     string `json:"filename"`
	TotalSlidesIncludingEmbedded int    `json:"totalSlidesIncludingEmbedded"`
	TotalEmbeddedFiles           int    `json:"totalEmbeddedFiles"`
	ArtifactRef                  string `json:"artifactRef,omitempty"`
}

// FailedSlide names one slide whose analysis ended in failure.
type FailedSlide struct {
	OwnerKey    string `json:"ownerKey"`
	SlideNumber int    `json:"slideNumber"`
	Reason      string `json:"reason"`
	Attempts    int    `json:"attempts"`
}

// HierarchicalDocument is a document artifact with its embedded documents nested.
type HierarchicalDocument struct {
	FileInfo          DocumentInfo           `json:"fileInfo"`
	Slides            []SlideEntry           `json:"slides"`
	EmbeddedDocuments []HierarchicalDocument `json:"embeddedDocuments"`
}

// CompleteAnalysis is the per-root artifact: one input and everything it embeds.
type CompleteAnalysis struct {
	RunID       string               `json:"runId"`
	GeneratedAt time.Time            `json:"generatedAt"`
	Summary     RootRollup           `json:"summary"`
	Document    HierarchicalDocument `json:"document"`
}

// RunSummary is the cross-document summary artifact.
type RunSummary struct {
	RunID                 string        `json:"runId"`
	GeneratedAt           time.Time     `json:"generatedAt"`
	CheckpointGeneratedAt time.Time     `json:"checkpointGeneratedAt"`
	MaxWorkers            int           `json:"maxWorkers,omitempty"`
	Totals                RunTotals     `json:"totals"`
	Nodes                 []NodeSummary `json:"nodes"`
	Roots                 []RootRollup  `json:"roots"`
	FailedSlides          []FailedSlide `json:"failedSlides"`
	SummaryRef            string        `json:"-"`
}
