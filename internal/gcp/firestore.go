package gcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/slideflow/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for all services.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// RunTracker records the lifecycle of each run as one document in a collection.
type RunTracker struct {
	client     *firestore.Client
	collection string
}

// NewRunTracker returns a tracker over collection.
func NewRunTracker(client *firestore.Client, collection string) *RunTracker {
	return &RunTracker{client: client, collection: collection}
}

// Doc returns the run document of runID.
func (t *RunTracker) Doc(runID string) *firestore.DocumentRef {
	return t.client.Collection(t.collection).Doc(runID)
}

// FindByHash returns the id of a run that already processed a file with hash.
func (t *RunTracker) FindByHash(ctx context.Context, fileHash string) (string, bool, error) {
	docs, err := t.client.Collection(t.collection).Where("fileHash", "==", fileHash).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return "", false, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) > 0 {
		return docs[0].Ref.ID, true, nil
	}
	return "", false, nil
}

// Create stores a new run document keyed by run.RunID.
func (t *RunTracker) Create(ctx context.Context, run models.Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if _, err := t.Doc(run.RunID).Create(ctx, run); err != nil {
		return fmt.Errorf("failed to create run document: %w", err)
	}
	return nil
}

// Update applies field updates to the run document.
func (t *RunTracker) Update(ctx context.Context, runID string, updates ...firestore.Update) error {
	if _, err := t.Doc(runID).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	return nil
}

// UpdateStatus sets the status and, when given, the error details of a run.
func (t *RunTracker) UpdateStatus(ctx context.Context, runID, runStatus, errDetails string) error {
	updates := []firestore.Update{
		{Path: "status", Value: runStatus},
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	return t.Update(ctx, runID, updates...)
}

// FirestoreOutcomeSink stores outcomes in the outcomes subcollection of a run
// document. Each slide maps to one document id, and documents are only ever
// created, so the first recorded outcome of a slide wins.
type FirestoreOutcomeSink struct {
	outcomes *firestore.CollectionRef
	logger   *slog.Logger
}

// NewFirestoreOutcomeSink returns the sink of runID below collection.
func NewFirestoreOutcomeSink(client *firestore.Client, collection, runID string, logger *slog.Logger) *FirestoreOutcomeSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FirestoreOutcomeSink{
		outcomes: client.Collection(collection).Doc(runID).Collection("outcomes"),
		logger:   logger.With("runId", runID),
	}
}

func (s *FirestoreOutcomeSink) Load(ctx context.Context) (map[string]models.AnalysisOutcome, error) {
	out := make(map[string]models.AnalysisOutcome)
	iter := s.outcomes.Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list outcomes: %w", err)
		}
		var o models.AnalysisOutcome
		if err := doc.DataTo(&o); err != nil {
			s.logger.Warn("Skipping unreadable outcome document.", "docId", doc.Ref.ID, "error", err)
			continue
		}
		out[o.ID()] = o
	}
	return out, nil
}

func (s *FirestoreOutcomeSink) Append(ctx context.Context, o models.AnalysisOutcome) error {
	_, err := s.outcomes.Doc(OutcomeDocID(o.ID())).Create(ctx, o)
	if status.Code(err) == codes.AlreadyExists {
		s.logger.Info("SKIPPING: Outcome already recorded.", "slideId", o.ID())
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record outcome %s: %w", o.ID(), err)
	}
	return nil
}

// OutcomeDocID maps a slide id to a Firestore-safe document id.
func OutcomeDocID(slideID string) string {
	sum := sha256.Sum256([]byte(slideID))
	return hex.EncodeToString(sum[:16])
}
