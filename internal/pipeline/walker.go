package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/google/uuid"
)

// DefaultMaxDepth bounds how deep embedded documents are followed.
const DefaultMaxDepth = 8

// Walker discovers the document forest depth-first and converts every node
// that the checkpoint does not already hold as converted.
type Walker struct {
	stage    *ConversionStage
	store    CheckpointStore
	maxDepth int
	logger   *slog.Logger
	now      func() time.Time
	newRunID func() string
}

// WalkerOption configures a Walker.
type WalkerOption func(*Walker)

// WithMaxDepth sets the deepest embedding level that is still converted.
func WithMaxDepth(depth int) WalkerOption {
	return func(w *Walker) { w.maxDepth = depth }
}

// WithWalkLogger sets the logger.
func WithWalkLogger(l *slog.Logger) WalkerOption {
	return func(w *Walker) { w.logger = l }
}

// WithRunID fixes the run id used when a new checkpoint is started.
func WithRunID(id string) WalkerOption {
	return func(w *Walker) {
		if id != "" {
			w.newRunID = func() string { return id }
		}
	}
}

// NewWalker builds a walker around stage that persists into store.
func NewWalker(stage *ConversionStage, store CheckpointStore, opts ...WalkerOption) *Walker {
	w := &Walker{
		stage:    stage,
		store:    store,
		maxDepth: DefaultMaxDepth,
		logger:   slog.Default(),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.maxDepth < 0 {
		w.maxDepth = 0
	}
	return w
}

type ancestor struct {
	key  string
	hash string
}

// Walk converts the given root documents and everything embedded in them.
// It resumes from the stored checkpoint when one exists. A returned error is
// fatal; node-scoped failures are recorded on the nodes instead.
func (w *Walker) Walk(ctx context.Context, roots []string) (*models.RunCheckpoint, error) {
	cp, err := w.store.Load(ctx)
	switch {
	case errors.Is(err, ErrCheckpointNotFound):
		cp = models.NewRunCheckpoint(w.newRunID())
		w.logger.Info("Starting a new checkpoint.", "runId", cp.RunID)
	case err != nil:
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	default:
		w.logger.Info("Resuming from checkpoint.", "runId", cp.RunID, "nodes", len(cp.Nodes), "slides", len(cp.Slides))
	}

	rootKeys := make([]string, 0, len(roots))
	seen := make(map[string]string, len(roots))
	for _, loc := range roots {
		name := filepath.Base(loc)
		key := NodeKey("", name, 0)
		if first, dup := seen[key]; dup {
			w.logger.Warn("Duplicate top-level document name; keeping the first.", "nodeKey", key, "kept", first, "skipped", loc)
			continue
		}
		seen[key] = loc
		node, ok := cp.Node(key)
		if !ok {
			node = &models.FileNode{Key: key, DisplayName: name, Locator: loc, Depth: 0}
			cp.PutNode(node)
		} else if !node.Converted() {
			node.Locator = loc
		}
		cp.AddRoot(key)
		rootKeys = append(rootKeys, key)
	}
	if err := w.save(ctx, cp); err != nil {
		return nil, err
	}

	visited := make(map[string]bool)
	for _, key := range rootKeys {
		if err := ctx.Err(); err != nil {
			return cp, err
		}
		w.logger.Info("Processing top-level document.", "nodeKey", key)
		if err := w.visit(ctx, cp, key, nil, visited); err != nil {
			return cp, err
		}
		if err := w.save(ctx, cp); err != nil {
			return cp, err
		}
	}

	w.logger.Info("Conversion walk completed.", "runId", cp.RunID, "nodes", len(cp.Nodes), "slides", len(cp.Slides))
	return cp, nil
}

func (w *Walker) visit(ctx context.Context, cp *models.RunCheckpoint, key string, ancestors []ancestor, visited map[string]bool) error {
	if visited[key] {
		w.logger.Debug("Skipping already visited document.", "nodeKey", key)
		return nil
	}
	visited[key] = true
	if err := ctx.Err(); err != nil {
		return err
	}

	node, ok := cp.Node(key)
	if !ok {
		w.logger.Warn("Checkpoint references an unknown document.", "nodeKey", key)
		return nil
	}
	if node.Converted() {
		w.logger.Debug("Document already converted, skipping render.", "nodeKey", key, "slideCount", node.Slides())
	} else if err := w.convertNode(ctx, cp, node, ancestors); err != nil {
		return err
	}

	lineage := make([]ancestor, len(ancestors), len(ancestors)+1)
	copy(lineage, ancestors)
	lineage = append(lineage, ancestor{key: node.Key, hash: node.ContentHash})
	for _, childKey := range node.ChildKeys {
		if err := w.visit(ctx, cp, childKey, lineage, visited); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) convertNode(ctx context.Context, cp *models.RunCheckpoint, node *models.FileNode, ancestors []ancestor) error {
	logCtx := w.logger.With("nodeKey", node.Key, "depth", node.Depth)

	if node.Depth > w.maxDepth {
		logCtx.Warn("Embedding depth limit reached; document not converted.", "maxDepth", w.maxDepth)
		node.MarkConverted(0, fmt.Errorf("embedding depth %d exceeds limit %d", node.Depth, w.maxDepth))
		cp.PutNode(node)
		return w.save(ctx, cp)
	}

	if hash, err := FileHash(node.Locator); err == nil {
		node.ContentHash = hash
		for _, a := range ancestors {
			if a.hash != "" && a.hash == hash {
				logCtx.Warn("Document embeds one of its ancestors; not expanding.", "ancestorKey", a.key)
				node.MarkConverted(0, fmt.Errorf("cyclic embedding: identical to ancestor %s", a.key))
				cp.PutNode(node)
				return w.save(ctx, cp)
			}
		}
	}

	res, err := w.stage.Convert(ctx, node)
	if err != nil {
		return err
	}
	cp.SetSlides(node.Key, res.Slides)

	var failures []string
	if res.RenderErr != nil {
		failures = append(failures, "render: "+res.RenderErr.Error())
	}
	if res.ExtractErr != nil {
		failures = append(failures, "extract: "+res.ExtractErr.Error())
	}
	var failure error
	if len(failures) > 0 {
		failure = errors.New(strings.Join(failures, "; "))
	}
	node.MarkConverted(len(res.Slides), failure)

	for _, child := range res.Children {
		childKey := NodeKey(node.Key, child.DisplayName, node.Depth+1)
		if containsKey(node.ChildKeys, childKey) {
			logCtx.Warn("Duplicate embedded document name; reusing existing node.", "childKey", childKey)
			continue
		}
		if _, exists := cp.Node(childKey); !exists {
			cp.PutNode(&models.FileNode{
				Key:         childKey,
				DisplayName: child.DisplayName,
				Locator:     child.Locator,
				ParentKey:   node.Key,
				Depth:       node.Depth + 1,
			})
		}
		node.ChildKeys = append(node.ChildKeys, childKey)
	}
	cp.PutNode(node)
	return w.save(ctx, cp)
}

func (w *Walker) save(ctx context.Context, cp *models.RunCheckpoint) error {
	cp.Touch(w.now().UTC())
	if err := w.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// FileHash is the hex sha256 of a file's content.
func FileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
