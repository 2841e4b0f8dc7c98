package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Lllllllleong/slideflow/internal/models"
)

// OutcomeSink is the append-only store of analysis outcomes. It lives apart
// from the checkpoint so analysis never rewrites conversion state.
type OutcomeSink interface {
	// Load returns every recorded outcome keyed by slide ID.
	Load(ctx context.Context) (map[string]models.AnalysisOutcome, error)
	// Append records one outcome. An outcome already recorded for the same
	// slide is kept as is.
	Append(ctx context.Context, outcome models.AnalysisOutcome) error
}

// JSONLSink appends outcomes to a JSON Lines file.
type JSONLSink struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// NewJSONLSink returns a sink writing to path. The file is opened lazily.
func NewJSONLSink(path string, logger *slog.Logger) *JSONLSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONLSink{path: path, logger: logger}
}

// Path returns the outcome file location.
func (s *JSONLSink) Path() string { return s.path }

func (s *JSONLSink) Load(ctx context.Context) (map[string]models.AnalysisOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]models.AnalysisOutcome{}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read outcomes %s: %w", s.path, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var o models.AnalysisOutcome
		if err := json.Unmarshal(raw, &o); err != nil {
			// A torn record from an interrupted write; the slide stays unresolved.
			s.logger.Warn("Skipping unreadable outcome record.", "path", s.path, "line", line, "error", err)
			continue
		}
		if _, seen := out[o.ID()]; seen {
			continue
		}
		out[o.ID()] = o
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan outcomes %s: %w", s.path, err)
	}
	return out, nil
}

func (s *JSONLSink) Append(ctx context.Context, outcome models.AnalysisOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to encode outcome %s: %w", outcome.ID(), err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("failed to create outcome dir: %w", err)
		}
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open outcomes %s: %w", s.path, err)
		}
		if err := terminateTornRecord(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to repair outcomes %s: %w", s.path, err)
		}
		s.file = f
	}
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("failed to append outcome %s: %w", outcome.ID(), err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync outcomes %s: %w", s.path, err)
	}
	return nil
}

// Close releases the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// terminateTornRecord ends a dangling partial line so the next record starts clean.
func terminateTornRecord(f *os.File) error {
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}
