package render

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Lllllllleong/slideflow/internal/pipeline"
)

const (
	embeddingsPrefix = "ppt/embeddings/"
	// MinEmbeddedSize is the smallest blob still considered a presentation.
	MinEmbeddedSize = 512
	maxEmbeddedSize = 1 << 30
)

var (
	zipSignature  = []byte("PK\x03\x04")
	ole2Signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// ZipExtractor pulls embedded presentations out of the OOXML package of a
// presentation. Children are written to <workDir>/<outputKey>_embedded/.
type ZipExtractor struct {
	workDir string
	logger  *slog.Logger
}

// NewZipExtractor returns an extractor writing below workDir.
func NewZipExtractor(workDir string, logger *slog.Logger) *ZipExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ZipExtractor{workDir: workDir, logger: logger}
}

// Extract returns the presentations embedded directly in documentLocator, in
// package order. Documents that are not OOXML packages have no children.
func (x *ZipExtractor) Extract(ctx context.Context, documentLocator, outputKey string) ([]pipeline.EmbeddedDocument, error) {
	logCtx := x.logger.With("document", documentLocator)
	isZip, err := hasSignature(documentLocator, zipSignature)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", documentLocator, err)
	}
	if !isZip {
		logCtx.Debug("Document is not an OOXML package; no embedded documents.")
		return nil, nil
	}

	zr, err := zip.OpenReader(documentLocator)
	if err != nil {
		return nil, fmt.Errorf("failed to open package: %w", err)
	}
	defer zr.Close()

	var entries []*zip.File
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, embeddingsPrefix) && !f.FileInfo().IsDir() {
			entries = append(entries, f)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	if len(entries) == 0 {
		return nil, nil
	}

	outDir := filepath.Join(x.workDir, outputKey+"_embedded")
	var children []pipeline.EmbeddedDocument
	var errs []error
	for idx, f := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := readEntry(f)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
			continue
		}
		ext, ok := presentationKind(data)
		if !ok {
			logCtx.Debug("Skipping embedded object that is not a presentation.", "entry", f.Name, "size", len(data))
			continue
		}
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create embedded dir: %w", err)
		}
		name := fmt.Sprintf("embedded_%d%s", idx+1, ext)
		path := filepath.Join(outDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
			continue
		}
		logCtx.Info("Extracted embedded presentation.", "entry", f.Name, "path", path)
		children = append(children, pipeline.EmbeddedDocument{Locator: path, DisplayName: name})
	}
	return children, errors.Join(errs...)
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxEmbeddedSize {
		return nil, fmt.Errorf("embedded object too large: %d bytes", f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxEmbeddedSize))
}

// presentationKind reports the file extension of a blob that holds a
// presentation, or false when the blob is something else.
func presentationKind(data []byte) (string, bool) {
	if len(data) < MinEmbeddedSize {
		return "", false
	}
	switch {
	case bytes.HasPrefix(data, zipSignature):
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return "", false
		}
		var contentTypes, pptPart bool
		for _, f := range zr.File {
			if f.Name == "[Content_Types].xml" {
				contentTypes = true
			}
			if strings.HasPrefix(f.Name, "ppt/") {
				pptPart = true
			}
		}
		if contentTypes && pptPart {
			return ".pptx", true
		}
		return "", false
	case bytes.HasPrefix(data, ole2Signature):
		return ".ppt", true
	}
	return "", false
}

func hasSignature(path string, sig []byte) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, len(sig))
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	return n == len(sig) && bytes.Equal(head, sig), nil
}
