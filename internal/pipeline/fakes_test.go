package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/slideflow/internal/models"
)

type fakeRenderer struct {
	mu     sync.Mutex
	slides map[string]int
	errs   map[string]error
	calls  map[string]int
}

func newFakeRenderer(slides map[string]int) *fakeRenderer {
	return &fakeRenderer{slides: slides, errs: map[string]error{}, calls: map[string]int{}}
}

func (r *fakeRenderer) RenderAll(_ context.Context, locator, outputKey string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[locator]++
	if err, ok := r.errs[locator]; ok {
		return nil, err
	}
	images := make([]string, r.slides[locator])
	for i := range images {
		images[i] = fmt.Sprintf("%s_slides/slide_%03d.png", outputKey, i+1)
	}
	return images, nil
}

func (r *fakeRenderer) callsFor(locator string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[locator]
}

type fakeExtractor struct {
	mu       sync.Mutex
	children map[string][]EmbeddedDocument
	errs     map[string]error
	calls    map[string]int
	// next, when set, is consulted for locators missing from children.
	next func(locator string) []EmbeddedDocument
}

func newFakeExtractor(children map[string][]EmbeddedDocument) *fakeExtractor {
	return &fakeExtractor{children: children, errs: map[string]error{}, calls: map[string]int{}}
}

func (x *fakeExtractor) Extract(_ context.Context, locator, _ string) ([]EmbeddedDocument, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.calls[locator]++
	if err, ok := x.errs[locator]; ok {
		return nil, err
	}
	if c, ok := x.children[locator]; ok {
		return c, nil
	}
	if x.next != nil {
		return x.next(locator), nil
	}
	return nil, nil
}

// memSink is an in-memory OutcomeSink.
type memSink struct {
	mu        sync.Mutex
	outcomes  map[string]models.AnalysisOutcome
	appends   int
	failAfter int // Append fails once this many records were written; 0 disables
}

func newMemSink() *memSink {
	return &memSink{outcomes: map[string]models.AnalysisOutcome{}}
}

func (s *memSink) Load(context.Context) (map[string]models.AnalysisOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.AnalysisOutcome, len(s.outcomes))
	for k, v := range s.outcomes {
		out[k] = v
	}
	return out, nil
}

func (s *memSink) Append(_ context.Context, o models.AnalysisOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && s.appends >= s.failAfter {
		return errors.New("disk full")
	}
	s.appends++
	if _, ok := s.outcomes[o.ID()]; !ok {
		s.outcomes[o.ID()] = o
	}
	return nil
}

func (s *memSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes)
}

// funcAnalyzer adapts a function to VisionAnalyzer and counts calls per image.
type funcAnalyzer struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ctx context.Context, image string, call int) (*models.SlideContent, error)
}

func newFuncAnalyzer(fn func(ctx context.Context, image string, call int) (*models.SlideContent, error)) *funcAnalyzer {
	return &funcAnalyzer{calls: map[string]int{}, fn: fn}
}

func (a *funcAnalyzer) Analyze(ctx context.Context, image string) (*models.SlideContent, error) {
	a.mu.Lock()
	a.calls[image]++
	call := a.calls[image]
	a.mu.Unlock()
	return a.fn(ctx, image, call)
}

func (a *funcAnalyzer) total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		n += c
	}
	return n
}

func okAnalyzer() *funcAnalyzer {
	return newFuncAnalyzer(func(_ context.Context, image string, _ int) (*models.SlideContent, error) {
		return &models.SlideContent{Title: image}, nil
	})
}

// checkpointWithSlides builds a converted checkpoint with one root per entry.
func checkpointWithSlides(counts map[string]int) *models.RunCheckpoint {
	cp := models.NewRunCheckpoint("run-test")
	for key, n := range counts {
		node := &models.FileNode{Key: key, DisplayName: key + ".pptx", Locator: key + ".pptx"}
		node.MarkConverted(n, nil)
		cp.PutNode(node)
		cp.AddRoot(key)
		slides := make([]models.SlideRecord, n)
		for i := range slides {
			slides[i] = models.SlideRecord{OwnerKey: key, SlideNumber: i + 1, ImageLocator: fmt.Sprintf("%s/%d.png", key, i+1)}
		}
		cp.SetSlides(key, slides)
	}
	return cp
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, MinDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
