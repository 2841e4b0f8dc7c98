package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/slideflow/internal/pipeline"
)

// DefaultOfficeBinary is looked up on PATH when no explicit binary is configured.
const DefaultOfficeBinary = "soffice"

// OfficeConverter drives a headless LibreOffice to turn presentations into PDF.
// LibreOffice cannot run two conversions against one profile, so calls are serialized.
type OfficeConverter struct {
	binary     string
	profileDir string
	timeout    time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	resolved string
}

// NewOfficeConverter returns a converter using binary (or soffice on PATH).
// profileDir holds the isolated LibreOffice user profile.
func NewOfficeConverter(binary, profileDir string, timeout time.Duration, logger *slog.Logger) *OfficeConverter {
	if binary == "" {
		binary = DefaultOfficeBinary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OfficeConverter{binary: binary, profileDir: profileDir, timeout: timeout, logger: logger}
}

// ToPDF converts src into outDir and returns the path of the produced PDF.
func (c *OfficeConverter) ToPDF(ctx context.Context, src, outDir string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bin, err := c.lookup()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create pdf dir: %w", err)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := []string{
		"--headless", "--norestore", "--nolockcheck",
		"--convert-to", "pdf",
		"--outdir", outDir,
		src,
	}
	if c.profileDir != "" {
		profile, err := filepath.Abs(c.profileDir)
		if err != nil {
			return "", fmt.Errorf("failed to resolve office profile dir: %w", err)
		}
		args = append([]string{"-env:UserInstallation=file://" + filepath.ToSlash(profile)}, args...)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, bin, args...)
	cmd.Stderr = &stderr
	c.logger.Debug("Running office conversion.", "source", src, "outDir", outDir)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("office conversion of %s failed: %w: %s", filepath.Base(src), err, strings.TrimSpace(stderr.String()))
	}

	base := filepath.Base(src)
	pdfPath := filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		return "", fmt.Errorf("office conversion of %s produced no pdf: %w", base, err)
	}
	return pdfPath, nil
}

func (c *OfficeConverter) lookup() (string, error) {
	if c.resolved != "" {
		return c.resolved, nil
	}
	bin, err := exec.LookPath(c.binary)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s not found: %v", pipeline.ErrRendererUnavailable, c.binary, err)
		}
		return "", fmt.Errorf("%w: %v", pipeline.ErrRendererUnavailable, err)
	}
	c.resolved = bin
	return bin, nil
}
