package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/Lllllllleong/slideflow/internal/pipeline"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
)

// ParseGCSURI splits gs://bucket/object into its parts.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs:// uri has no object: %q", uri)
	}
	return bucket, object, nil
}

// GCSURI formats a gs:// uri.
func GCSURI(bucket, object string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, object)
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// closeWriteOnce finalizes a DoesNotExist-conditioned write. An object that
// already exists is left untouched and is not an error.
func closeWriteOnce(w io.Closer, objectName string) error {
	err := w.Close()
	if isPreconditionFailed(err) {
		slog.Info("SKIPPING: Object already exists.", "gcsObject", objectName)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
	}
	return nil
}

// DownloadObject streams gs://bucket/object into destPath.
func DownloadObject(ctx context.Context, client *storage.Client, bucket, object, destPath string) error {
	gcsReader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer gcsReader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if _, err := io.Copy(localFile, gcsReader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

// UploadFile copies localPath to destObject unless the object already exists,
// retrying transient failures. Slide images are immutable within a run, so a
// retried or re-entered upload never rewrites one.
func UploadFile(ctx context.Context, bucket *storage.BucketHandle, localPath, destObject string) error {
	const maxRetries = 4
	var backoff = 1 * time.Second
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := func() error {
			localFileReader, err := os.Open(localPath)
			if err != nil {
				return fmt.Errorf("could not open local file %s: %w", localPath, err)
			}
			defer localFileReader.Close()

			writeCtx, cancel := context.WithTimeout(ctx, time.Second*50)
			defer cancel()

			gcsWriter := bucket.Object(destObject).If(storage.Conditions{DoesNotExist: true}).NewWriter(writeCtx)
			if _, err := io.Copy(gcsWriter, localFileReader); err != nil {
				_ = gcsWriter.Close()
				return fmt.Errorf("io.Copy to GCS failed: %w", err)
			}
			return closeWriteOnce(gcsWriter, destObject)
		}()
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn("Upload failed, will retry.",
			"gcsObject", destObject,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("upload for %s failed after all retries: %w", destObject, lastErr)
}

// CheckpointObject keeps a run checkpoint in a single GCS object. Every write
// is conditioned on the generation this store last saw, so a concurrent writer
// is detected instead of silently overwritten.
type CheckpointObject struct {
	obj *storage.ObjectHandle
	uri string

	mu  sync.Mutex
	gen int64
}

// NewCheckpointObject returns the store for gs://bucket/object.
func NewCheckpointObject(client *storage.Client, bucket, object string) *CheckpointObject {
	return &CheckpointObject{obj: client.Bucket(bucket).Object(object), uri: GCSURI(bucket, object)}
}

// URI is the gs:// location of the checkpoint.
func (s *CheckpointObject) URI() string { return s.uri }

func (s *CheckpointObject) Load(ctx context.Context) (*models.RunCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx)
}

func (s *CheckpointObject) Save(ctx context.Context, cp *models.RunCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, cp)
}

func (s *CheckpointObject) AppendSlides(ctx context.Context, ownerKey string, slides []models.SlideRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const maxConflicts = 3
	for attempt := 1; ; attempt++ {
		cp, err := s.read(ctx)
		if errors.Is(err, pipeline.ErrCheckpointNotFound) {
			cp = models.NewRunCheckpoint("")
		} else if err != nil {
			return err
		}
		cp.SetSlides(ownerKey, slides)
		cp.Touch(time.Now().UTC())
		err = s.write(ctx, cp)
		if err == nil || !isPreconditionFailed(err) || attempt == maxConflicts {
			return err
		}
		slog.Warn("Checkpoint changed underneath; retrying append.", "checkpoint", s.uri, "attempt", attempt)
	}
}

func (s *CheckpointObject) read(ctx context.Context) (*models.RunCheckpoint, error) {
	r, err := s.obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		s.gen = 0
		return nil, fmt.Errorf("%s: %w", s.uri, pipeline.ErrCheckpointNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint %s: %w", s.uri, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", s.uri, err)
	}
	s.gen = r.Attrs.Generation
	return pipeline.DecodeCheckpoint(data)
}

// write stores cp conditioned on the last seen generation.
func (s *CheckpointObject) write(ctx context.Context, cp *models.RunCheckpoint) error {
	data, err := pipeline.EncodeCheckpoint(cp)
	if err != nil {
		return err
	}
	cond := storage.Conditions{DoesNotExist: true}
	if s.gen != 0 {
		cond = storage.Conditions{GenerationMatch: s.gen}
	}
	w := s.obj.If(cond).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write checkpoint %s: %w", s.uri, err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			if attrs, aerr := s.obj.Attrs(ctx); aerr == nil {
				s.gen = attrs.Generation
			}
		}
		return fmt.Errorf("failed to finalize checkpoint %s: %w", s.uri, err)
	}
	s.gen = w.Attrs().Generation
	return nil
}

// ArtifactBucket writes output artifacts as JSON objects below a prefix.
type ArtifactBucket struct {
	bucket     *storage.BucketHandle
	bucketName string
	prefix     string
}

// NewArtifactBucket returns a writer into gs://bucket/prefix/.
func NewArtifactBucket(client *storage.Client, bucket, prefix string) *ArtifactBucket {
	return &ArtifactBucket{bucket: client.Bucket(bucket), bucketName: bucket, prefix: strings.Trim(prefix, "/")}
}

func (a *ArtifactBucket) WriteJSON(ctx context.Context, name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode artifact %s: %w", name, err)
	}
	object := path.Join(a.prefix, name)
	w := a.bucket.Object(object).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write artifact %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize artifact %s: %w", object, err)
	}
	return GCSURI(a.bucketName, object), nil
}

// UploadingRenderer renders locally and then publishes each slide image to
// GCS, so the analysis stage can run anywhere the bucket is readable.
type UploadingRenderer struct {
	next       pipeline.Renderer
	bucket     *storage.BucketHandle
	bucketName string
	prefix     string
	logger     *slog.Logger
}

// NewUploadingRenderer wraps next and uploads its images to gs://bucket/prefix/.
func NewUploadingRenderer(next pipeline.Renderer, client *storage.Client, bucket, prefix string, logger *slog.Logger) *UploadingRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadingRenderer{
		next:       next,
		bucket:     client.Bucket(bucket),
		bucketName: bucket,
		prefix:     strings.Trim(prefix, "/"),
		logger:     logger,
	}
}

func (r *UploadingRenderer) RenderAll(ctx context.Context, documentLocator, outputKey string) ([]string, error) {
	local, err := r.next.RenderAll(ctx, documentLocator, outputKey)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Starting concurrent upload of slide images.", "outputKey", outputKey, "slideCount", len(local))
	uris := make([]string, len(local))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(10)
	for i, localPath := range local {
		object := path.Join(r.prefix, outputKey+"_slides", filepath.Base(localPath))
		uris[i] = GCSURI(r.bucketName, object)
		eg.Go(func() error {
			if err := UploadFile(gctx, r.bucket, localPath, object); err != nil {
				return fmt.Errorf("slide %d: %w", i+1, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("one or more slide images failed to upload: %w", err)
	}
	return uris, nil
}
