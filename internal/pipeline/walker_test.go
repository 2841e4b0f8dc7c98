package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWalker(t *testing.T, r *fakeRenderer, x *fakeExtractor, opts ...WalkerOption) (*Walker, *FileStore) {
	t.Helper()
	store := NewFileStore(filepath.Join(t.TempDir(), "checkpoint.json"))
	stage := NewConversionStage(r, x, store, quietLogger())
	opts = append([]WalkerOption{WithWalkLogger(quietLogger()), WithRunID("run-test")}, opts...)
	return NewWalker(stage, store, opts...), store
}

func TestWalk_NestedHierarchy(t *testing.T) {
	r := newFakeRenderer(map[string]int{"a.pptx": 3, "b.pptx": 2, "c.pptx": 1})
	x := newFakeExtractor(map[string][]EmbeddedDocument{
		"a.pptx": {{Locator: "b.pptx", DisplayName: "b.pptx"}},
		"b.pptx": {{Locator: "c.pptx", DisplayName: "c.pptx"}},
	})
	w, store := newTestWalker(t, r, x)

	cp, err := w.Walk(context.Background(), []string{"a.pptx"})
	require.NoError(t, err)

	assert.Equal(t, "run-test", cp.RunID)
	assert.Equal(t, []string{"a_d0"}, cp.Roots)
	assert.Equal(t, []string{"a_d0", "a_d0/b_d1", "a_d0/b_d1/c_d2"}, cp.NodeKeys())
	assert.Len(t, cp.Slides, 6)

	b, ok := cp.Node("a_d0/b_d1")
	require.True(t, ok)
	assert.Equal(t, "a_d0", b.ParentKey)
	assert.Equal(t, 1, b.Depth)
	assert.Equal(t, 2, b.Slides())
	assert.Equal(t, []string{"a_d0/b_d1/c_d2"}, b.ChildKeys)

	root, _ := cp.Node("a_d0")
	assert.Equal(t, []string{"a_d0/b_d1"}, root.ChildKeys)
	for i, s := range cp.SlidesFor("a_d0") {
		assert.Equal(t, i+1, s.SlideNumber)
	}

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cp.NodeKeys(), stored.NodeKeys())
	assert.Len(t, stored.Slides, 6)
}

func TestWalk_ReentryDoesNotRerender(t *testing.T) {
	r := newFakeRenderer(map[string]int{"a.pptx": 2, "b.pptx": 1})
	x := newFakeExtractor(map[string][]EmbeddedDocument{
		"a.pptx": {{Locator: "b.pptx", DisplayName: "b.pptx"}},
	})
	w, _ := newTestWalker(t, r, x)

	first, err := w.Walk(context.Background(), []string{"a.pptx"})
	require.NoError(t, err)
	second, err := w.Walk(context.Background(), []string{"a.pptx"})
	require.NoError(t, err)

	assert.Equal(t, 1, r.callsFor("a.pptx"))
	assert.Equal(t, 1, r.callsFor("b.pptx"))
	assert.Equal(t, first.Slides, second.Slides)
	assert.Equal(t, first.RunID, second.RunID)
	assert.False(t, second.GeneratedAt.Before(first.GeneratedAt))
}

func TestWalk_ResumesAfterFatalError(t *testing.T) {
	r := newFakeRenderer(map[string]int{"a.pptx": 2, "b.pptx": 4})
	r.errs["b.pptx"] = fmt.Errorf("%w: soffice not found", ErrRendererUnavailable)
	x := newFakeExtractor(map[string][]EmbeddedDocument{
		"a.pptx": {{Locator: "b.pptx", DisplayName: "b.pptx"}},
	})
	w, store := newTestWalker(t, r, x)

	_, err := w.Walk(context.Background(), []string{"a.pptx"})
	require.ErrorIs(t, err, ErrRendererUnavailable)

	interrupted, err := store.Load(context.Background())
	require.NoError(t, err)
	root, _ := interrupted.Node("a_d0")
	assert.True(t, root.Converted())
	child, _ := interrupted.Node("a_d0/b_d1")
	assert.False(t, child.Converted())

	delete(r.errs, "b.pptx")
	cp, err := w.Walk(context.Background(), []string{"a.pptx"})
	require.NoError(t, err)
	assert.Equal(t, 1, r.callsFor("a.pptx"))
	assert.Equal(t, 2, r.callsFor("b.pptx"))
	assert.Len(t, cp.Slides, 6)
}

func TestWalk_RenderFailureIsNodeScoped(t *testing.T) {
	r := newFakeRenderer(map[string]int{"a.pptx": 1, "c.pptx": 2})
	r.errs["b.pptx"] = errors.New("conversion produced no pdf")
	x := newFakeExtractor(map[string][]EmbeddedDocument{
		"a.pptx": {{Locator: "b.pptx", DisplayName: "b.pptx"}},
		"b.pptx": {{Locator: "c.pptx", DisplayName: "c.pptx"}},
	})
	w, _ := newTestWalker(t, r, x)

	cp, err := w.Walk(context.Background(), []string{"a.pptx"})
	require.NoError(t, err)

	b, _ := cp.Node("a_d0/b_d1")
	assert.True(t, b.Failed)
	assert.True(t, b.Converted())
	assert.Equal(t, 0, b.Slides())
	assert.Contains(t, b.Error, "render")

	// b's archive was still searched, so c was found and converted.
	c, ok := cp.Node("a_d0/b_d1/c_d2")
	require.True(t, ok)
	assert.False(t, c.Failed)
	assert.Equal(t, 2, c.Slides())
	assert.Len(t, cp.Slides, 3)
}

func TestWalk_ExtractFailureKeepsSlides(t *testing.T) {
	r := newFakeRenderer(map[string]int{"a.pptx": 2})
	x := newFakeExtractor(nil)
	x.errs["a.pptx"] = errors.New("zip: not a valid zip file")
	w, _ := newTestWalker(t, r, x)

	cp, err := w.Walk(context.Background(), []string{"a.pptx"})
	require.NoError(t, err)
	a, _ := cp.Node("a_d0")
	assert.True(t, a.Failed)
	assert.Contains(t, a.Error, "extract")
	assert.Equal(t, 2, a.Slides())
	assert.Len(t, cp.Slides, 2)
}

func TestWalk_CyclicEmbeddingIsNotExpanded(t *testing.T) {
	dir := t.TempDir()
	rootPath := filepath.Join(dir, "a.pptx")
	copyPath := filepath.Join(dir, "a_embedded", "copy.pptx")
	require.NoError(t, os.MkdirAll(filepath.Dir(copyPath), 0o755))
	require.NoError(t, os.WriteFile(rootPath, []byte("same bytes"), 0o644))
	require.NoError(t, os.WriteFile(copyPath, []byte("same bytes"), 0o644))

	r := newFakeRenderer(map[string]int{rootPath: 1, copyPath: 1})
	x := newFakeExtractor(map[string][]EmbeddedDocument{
		rootPath: {{Locator: copyPath, DisplayName: "copy.pptx"}},
		copyPath: {{Locator: copyPath, DisplayName: "copy.pptx"}},
	})
	w, _ := newTestWalker(t, r, x)

	cp, err := w.Walk(context.Background(), []string{rootPath})
	require.NoError(t, err)

	assert.Len(t, cp.Nodes, 2)
	child, ok := cp.Node("a_d0/copy_d1")
	require.True(t, ok)
	assert.True(t, child.Failed)
	assert.Contains(t, child.Error, "cyclic")
	assert.Equal(t, 0, r.callsFor(copyPath))
}

func TestWalk_DepthLimit(t *testing.T) {
	r := newFakeRenderer(map[string]int{})
	x := newFakeExtractor(nil)
	x.next = func(locator string) []EmbeddedDocument {
		return []EmbeddedDocument{{Locator: locator + "/inner.pptx", DisplayName: "inner.pptx"}}
	}
	w, _ := newTestWalker(t, r, x, WithMaxDepth(2))

	cp, err := w.Walk(context.Background(), []string{"a.pptx"})
	require.NoError(t, err)

	require.Len(t, cp.Nodes, 4)
	deepest, ok := cp.Node("a_d0/inner_d1/inner_d2/inner_d3")
	require.True(t, ok)
	assert.True(t, deepest.Failed)
	assert.Contains(t, deepest.Error, "depth")
	assert.Empty(t, deepest.ChildKeys)
}

func TestWalk_DuplicateChildNames(t *testing.T) {
	r := newFakeRenderer(map[string]int{"a.pptx": 1, "one/b.pptx": 1, "two/b.pptx": 1})
	x := newFakeExtractor(map[string][]EmbeddedDocument{
		"a.pptx": {
			{Locator: "one/b.pptx", DisplayName: "b.pptx"},
			{Locator: "two/b.pptx", DisplayName: "b.pptx"},
		},
	})
	w, _ := newTestWalker(t, r, x)

	cp, err := w.Walk(context.Background(), []string{"a.pptx"})
	require.NoError(t, err)
	root, _ := cp.Node("a_d0")
	assert.Equal(t, []string{"a_d0/b_d1"}, root.ChildKeys)
	assert.Len(t, cp.Nodes, 2)
}

func TestWalk_EmptyDocument(t *testing.T) {
	r := newFakeRenderer(map[string]int{"empty.pptx": 0})
	w, _ := newTestWalker(t, r, newFakeExtractor(nil))

	cp, err := w.Walk(context.Background(), []string{"empty.pptx"})
	require.NoError(t, err)
	node, _ := cp.Node("empty_d0")
	assert.True(t, node.Converted())
	assert.False(t, node.Failed)
	assert.Equal(t, 0, node.Slides())
	assert.Empty(t, cp.Slides)
}

func TestWalk_CancelledContext(t *testing.T) {
	r := newFakeRenderer(map[string]int{"a.pptx": 1})
	w, _ := newTestWalker(t, r, newFakeExtractor(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Walk(ctx, []string{"a.pptx"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, r.callsFor("a.pptx"))
}

func TestWalk_TwoRootsPartitionSlides(t *testing.T) {
	r := newFakeRenderer(map[string]int{"first.pptx": 2, "second.pptx": 3, "inner.pptx": 1})
	x := newFakeExtractor(map[string][]EmbeddedDocument{
		"first.pptx": {{Locator: "inner.pptx", DisplayName: "inner.pptx"}},
	})
	w, _ := newTestWalker(t, r, x)

	cp, err := w.Walk(context.Background(), []string{"first.pptx", "second.pptx"})
	require.NoError(t, err)

	assert.Equal(t, []string{"first_d0", "second_d0"}, cp.Roots)
	require.Len(t, cp.Nodes, 3)
	depths := map[string]int{}
	for key, n := range cp.Nodes {
		depths[key] = n.Depth
	}
	assert.Equal(t, map[string]int{"first_d0": 0, "second_d0": 0, "first_d0/inner_d1": 1}, depths)

	owners := map[string]int{}
	for _, s := range cp.Slides {
		owners[s.OwnerKey]++
	}
	assert.Equal(t, map[string]int{"first_d0": 2, "second_d0": 3, "first_d0/inner_d1": 1}, owners)
	second, _ := cp.Node("second_d0")
	assert.Empty(t, second.ChildKeys)
}

func TestWalk_NonASCIINamesKeepImagesApart(t *testing.T) {
	r := newFakeRenderer(map[string]int{"資料A.pptx": 2, "報告A.pptx": 2, "embedded_1.pptx": 1})
	x := newFakeExtractor(map[string][]EmbeddedDocument{
		"資料A.pptx": {{Locator: "embedded_1.pptx", DisplayName: "embedded_1.pptx"}},
		"報告A.pptx": {{Locator: "embedded_1.pptx", DisplayName: "embedded_1.pptx"}},
	})
	w, _ := newTestWalker(t, r, x)

	cp, err := w.Walk(context.Background(), []string{"資料A.pptx", "報告A.pptx"})
	require.NoError(t, err)
	require.Len(t, cp.Nodes, 4)
	require.Len(t, cp.Slides, 6)

	owners := map[string]string{}
	for _, s := range cp.Slides {
		prev, shared := owners[s.ImageLocator]
		assert.False(t, shared, "image %s shared by %s and %s", s.ImageLocator, prev, s.OwnerKey)
		owners[s.ImageLocator] = s.OwnerKey
	}
}

func TestWalk_DuplicateRootNameKeepsFirst(t *testing.T) {
	r := newFakeRenderer(map[string]int{"x/deck.pptx": 2, "y/deck.pptx": 5})
	w, _ := newTestWalker(t, r, newFakeExtractor(nil))

	cp, err := w.Walk(context.Background(), []string{"x/deck.pptx", "y/deck.pptx"})
	require.NoError(t, err)

	assert.Equal(t, []string{"deck_d0"}, cp.Roots)
	node, _ := cp.Node("deck_d0")
	assert.Equal(t, "x/deck.pptx", node.Locator)
	assert.Equal(t, 2, node.Slides())
	assert.Equal(t, 1, r.callsFor("x/deck.pptx"))
	assert.Equal(t, 0, r.callsFor("y/deck.pptx"))
}
