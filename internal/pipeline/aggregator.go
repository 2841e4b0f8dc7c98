package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Lllllllleong/slideflow/internal/models"
)

// SummaryArtifactName is the name of the cross-document summary artifact.
const SummaryArtifactName = "processing_summary.json"

// ArtifactWriter stores a JSON artifact and returns a reference to it.
type ArtifactWriter interface {
	WriteJSON(ctx context.Context, name string, v any) (string, error)
}

// DirWriter writes artifacts as files below a local directory.
type DirWriter struct {
	dir string
}

// NewDirWriter returns a writer rooted at dir.
func NewDirWriter(dir string) *DirWriter {
	return &DirWriter{dir: dir}
}

func (w *DirWriter) WriteJSON(ctx context.Context, name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode artifact %s: %w", name, err)
	}
	path := filepath.Join(w.dir, filepath.FromSlash(name))
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	return path, nil
}

// DocumentArtifactName is where the artifact of the node with key is stored.
func DocumentArtifactName(key string) string {
	return "documents/" + SafeName(key) + ".json"
}

// CompleteAnalysisName is where the hierarchical artifact of a root is stored.
func CompleteAnalysisName(rootKey string) string {
	return SafeName(rootKey) + "_complete_analysis.json"
}

// Aggregator joins checkpointed slides with their outcomes into output artifacts.
type Aggregator struct {
	writer     ArtifactWriter
	logger     *slog.Logger
	now        func() time.Time
	maxWorkers int
}

// NewAggregator returns an aggregator writing through writer.
func NewAggregator(writer ArtifactWriter, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{writer: writer, logger: logger, now: time.Now}
}

// Aggregate writes one artifact per node, one hierarchical artifact per root
// plus the summary. Every slide of cp appears in exactly one document
// artifact, marked success, failure or pending.
func (a *Aggregator) Aggregate(ctx context.Context, cp *models.RunCheckpoint, outcomes map[string]models.AnalysisOutcome) (*models.RunSummary, error) {
	logCtx := a.logger.With("runId", cp.RunID)
	docs := BuildDocuments(cp, outcomes)

	summary := &models.RunSummary{
		RunID:                 cp.RunID,
		GeneratedAt:           a.now().UTC(),
		CheckpointGeneratedAt: cp.GeneratedAt,
		MaxWorkers:            a.maxWorkers,
		Nodes:                 make([]models.NodeSummary, 0, len(docs)),
		FailedSlides:          []models.FailedSlide{},
	}

	for _, doc := range docs {
		ref, err := a.writer.WriteJSON(ctx, DocumentArtifactName(doc.FileInfo.Key), doc)
		if err != nil {
			return nil, err
		}
		row := models.NodeSummary{
			Key:         doc.FileInfo.Key,
			Filename:    doc.FileInfo.Filename,
			ParentKey:   doc.FileInfo.ParentKey,
			Depth:       doc.FileInfo.Depth,
			SlideCount:  doc.FileInfo.SlideCount,
			Children:    childKeysOf(cp, doc.FileInfo.Key),
			Failed:      doc.FileInfo.Failed,
			Error:       doc.FileInfo.Error,
			ArtifactRef: ref,
		}
		summary.Totals.Documents++
		if doc.FileInfo.Failed {
			summary.Totals.DocumentsFailed++
		}
		succeeded, failed, pending := countSlides(doc)
		row.SlidesSucceeded, row.SlidesFailed = succeeded, failed
		summary.Totals.Slides += len(doc.Slides)
		summary.Totals.SlidesSucceeded += succeeded
		summary.Totals.SlidesFailed += failed
		summary.Totals.SlidesPending += pending
		summary.Nodes = append(summary.Nodes, row)
		summary.FailedSlides = append(summary.FailedSlides, failedSlides(doc)...)
	}

	summary.Roots = rootRollups(cp)
	byKey := make(map[string]models.DocumentArtifact, len(docs))
	for _, doc := range docs {
		byKey[doc.FileInfo.Key] = doc
	}
	for i, rollup := range summary.Roots {
		complete := models.CompleteAnalysis{
			RunID:       cp.RunID,
			GeneratedAt: summary.GeneratedAt,
			Summary:     rollup,
			Document:    buildHierarchy(cp, byKey, rollup.Key, map[string]bool{}),
		}
		ref, err := a.writer.WriteJSON(ctx, CompleteAnalysisName(rollup.Key), complete)
		if err != nil {
			return nil, err
		}
		summary.Roots[i].ArtifactRef = ref
	}

	ref, err := a.writer.WriteJSON(ctx, SummaryArtifactName, summary)
	if err != nil {
		return nil, err
	}
	summary.SummaryRef = ref
	logCtx.Info("Wrote analysis artifacts.",
		"documents", summary.Totals.Documents,
		"slidesSucceeded", summary.Totals.SlidesSucceeded,
		"slidesFailed", summary.Totals.SlidesFailed,
		"slidesPending", summary.Totals.SlidesPending,
		"summary", ref,
	)
	return summary, nil
}

// BuildDocuments produces the per-node artifacts ordered by key, slides by number.
func BuildDocuments(cp *models.RunCheckpoint, outcomes map[string]models.AnalysisOutcome) []models.DocumentArtifact {
	docs := make([]models.DocumentArtifact, 0, len(cp.Nodes))
	for _, key := range cp.NodeKeys() {
		node := cp.Nodes[key]
		info := models.DocumentInfo{
			Key:            node.Key,
			Filename:       node.DisplayName,
			ParentKey:      node.ParentKey,
			Depth:          node.Depth,
			SlideCount:     node.Slides(),
			ChildDocuments: make([]string, 0, len(node.ChildKeys)),
			Failed:         node.Failed,
			Error:          node.Error,
		}
		for _, ck := range node.ChildKeys {
			if child, ok := cp.Node(ck); ok {
				info.ChildDocuments = append(info.ChildDocuments, child.DisplayName)
			}
		}

		slides := cp.SlidesFor(key)
		entries := make([]models.SlideEntry, 0, len(slides))
		for _, s := range slides {
			entry := models.SlideEntry{
				SlideNumber: s.SlideNumber,
				ImageRef:    s.ImageLocator,
				Status:      models.OutcomePending,
			}
			if o, ok := outcomes[s.ID()]; ok {
				entry.Status = o.Status
				entry.Failure = o.Failure
				if o.Content != nil {
					entry.Content = o.Content
					entry.Confidence = o.Content.ConfidenceScores
				}
			}
			entries = append(entries, entry)
		}
		docs = append(docs, models.DocumentArtifact{FileInfo: info, Slides: entries})
	}
	return docs
}

func countSlides(doc models.DocumentArtifact) (succeeded, failed, pending int) {
	for _, s := range doc.Slides {
		switch s.Status {
		case models.OutcomeSuccess:
			succeeded++
		case models.OutcomeFailure:
			failed++
		default:
			pending++
		}
	}
	return succeeded, failed, pending
}

func failedSlides(doc models.DocumentArtifact) []models.FailedSlide {
	var out []models.FailedSlide
	for _, s := range doc.Slides {
		if s.Status != models.OutcomeFailure {
			continue
		}
		f := models.FailedSlide{OwnerKey: doc.FileInfo.Key, SlideNumber: s.SlideNumber}
		if s.Failure != nil {
			f.Reason, f.Attempts = s.Failure.Reason, s.Failure.Attempts
		}
		out = append(out, f)
	}
	return out
}

// buildHierarchy nests the artifacts of key's descendants below it. A node
// reached twice is only expanded the first time.
func buildHierarchy(cp *models.RunCheckpoint, byKey map[string]models.DocumentArtifact, key string, seen map[string]bool) models.HierarchicalDocument {
	seen[key] = true
	doc := byKey[key]
	h := models.HierarchicalDocument{
		FileInfo:          doc.FileInfo,
		Slides:            doc.Slides,
		EmbeddedDocuments: []models.HierarchicalDocument{},
	}
	if h.Slides == nil {
		h.Slides = []models.SlideEntry{}
	}
	node, ok := cp.Node(key)
	if !ok {
		return h
	}
	for _, ck := range node.ChildKeys {
		if seen[ck] {
			continue
		}
		if _, ok := byKey[ck]; !ok {
			continue
		}
		h.EmbeddedDocuments = append(h.EmbeddedDocuments, buildHierarchy(cp, byKey, ck, seen))
	}
	return h
}

func childKeysOf(cp *models.RunCheckpoint, key string) []string {
	node, ok := cp.Node(key)
	if !ok {
		return []string{}
	}
	out := make([]string, len(node.ChildKeys))
	copy(out, node.ChildKeys)
	return out
}

func rootRollups(cp *models.RunCheckpoint) []models.RootRollup {
	rollups := make([]models.RootRollup, 0, len(cp.Roots))
	for _, key := range cp.Roots {
		root, ok := cp.Node(key)
		if !ok {
			continue
		}
		r := models.RootRollup{Key: key, Filename: root.DisplayName}
		seen := map[string]bool{}
		var count func(k string)
		count = func(k string) {
			if seen[k] {
				return
			}
			seen[k] = true
			n, ok := cp.Node(k)
			if !ok {
				return
			}
			r.TotalSlidesIncludingEmbedded += len(cp.SlidesFor(k))
			for _, ck := range n.ChildKeys {
				if !seen[ck] {
					r.TotalEmbeddedFiles++
				}
				count(ck)
			}
		}
		count(key)
		rollups = append(rollups, r)
	}
	return rollups
}
