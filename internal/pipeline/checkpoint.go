package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/Lllllllleong/slideflow/internal/models"
)

// CheckpointStore persists the discovered hierarchy and its slides.
// Implementations must replace state all-or-nothing so a concurrent reader
// never sees a partially written node.
type CheckpointStore interface {
	// Load returns ErrCheckpointNotFound when nothing has been saved yet.
	Load(ctx context.Context) (*models.RunCheckpoint, error)
	Save(ctx context.Context, cp *models.RunCheckpoint) error
	// AppendSlides replaces the slides owned by ownerKey.
	AppendSlides(ctx context.Context, ownerKey string, slides []models.SlideRecord) error
}

// FileStore keeps the checkpoint as a JSON file on local disk.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (*models.RunCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) Save(ctx context.Context, cp *models.RunCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(cp)
}

func (s *FileStore) AppendSlides(ctx context.Context, ownerKey string, slides []models.SlideRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.load()
	if errors.Is(err, ErrCheckpointNotFound) {
		cp = models.NewRunCheckpoint("")
	} else if err != nil {
		return err
	}
	cp.SetSlides(ownerKey, slides)
	return s.save(cp)
}

func (s *FileStore) load() (*models.RunCheckpoint, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", s.path, err)
	}
	return DecodeCheckpoint(data)
}

func (s *FileStore) save(cp *models.RunCheckpoint) error {
	data, err := EncodeCheckpoint(cp)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", s.path, err)
	}
	return nil
}

// EncodeCheckpoint serializes cp in the persisted layout.
func EncodeCheckpoint(cp *models.RunCheckpoint) ([]byte, error) {
	if cp.Version == 0 {
		cp.Version = models.CheckpointVersion
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return data, nil
}

// DecodeCheckpoint parses a persisted checkpoint. A corrupt payload is an error,
// never ErrCheckpointNotFound.
func DecodeCheckpoint(data []byte) (*models.RunCheckpoint, error) {
	var cp models.RunCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint: %w", err)
	}
	if cp.Version > models.CheckpointVersion {
		return nil, fmt.Errorf("checkpoint version %d is newer than supported version %d", cp.Version, models.CheckpointVersion)
	}
	cp.Normalize()
	return &cp, nil
}

// writeFileAtomic writes data to a temp file next to path and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
