package render

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// DefaultDPI renders a 13.33in wide slide at roughly 1920 pixels.
const DefaultDPI = 144.0

// pdfConverter produces a PDF from a presentation.
type pdfConverter interface {
	ToPDF(ctx context.Context, src, outDir string) (string, error)
}

// SlideRenderer renders every slide of a presentation to a PNG file. Slides are
// laid out as <workDir>/<outputKey>_slides/<stem>_slide_NNN.png.
type SlideRenderer struct {
	office  pdfConverter
	workDir string
	dpi     float64
	logger  *slog.Logger
}

// Option configures a SlideRenderer.
type Option func(*SlideRenderer)

// WithDPI sets the rasterization resolution.
func WithDPI(dpi float64) Option {
	return func(r *SlideRenderer) {
		if dpi > 0 {
			r.dpi = dpi
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *SlideRenderer) { r.logger = l }
}

// NewSlideRenderer returns a renderer that writes below workDir.
func NewSlideRenderer(office *OfficeConverter, workDir string, opts ...Option) *SlideRenderer {
	r := &SlideRenderer{office: office, workDir: workDir, dpi: DefaultDPI, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RenderAll converts documentLocator to PDF when needed and rasterizes each page.
func (r *SlideRenderer) RenderAll(ctx context.Context, documentLocator, outputKey string) ([]string, error) {
	logCtx := r.logger.With("document", documentLocator, "outputKey", outputKey)
	outDir := filepath.Join(r.workDir, outputKey+"_slides")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create slide dir: %w", err)
	}

	scratch, err := os.MkdirTemp(r.workDir, ".render-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	pdfPath := documentLocator
	if !strings.EqualFold(filepath.Ext(documentLocator), ".pdf") {
		pdfPath, err = r.office.ToPDF(ctx, documentLocator, scratch)
		if err != nil {
			return nil, err
		}
	}

	optimized := filepath.Join(scratch, "optimized.pdf")
	if err := optimizePDF(pdfPath, optimized); err != nil {
		logCtx.Warn("Failed to optimize PDF; rendering the original.", "error", err)
	} else {
		pdfPath = optimized
	}
	pageCount, err := api.PageCountFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	logCtx.Debug("Prepared PDF for rasterization.", "pageCount", pageCount)

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer doc.Close()

	stem := strings.TrimSuffix(filepath.Base(documentLocator), filepath.Ext(documentLocator))
	images := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, r.dpi)
		if err != nil {
			return nil, fmt.Errorf("failed to rasterize slide %d: %w", i+1, err)
		}
		path := filepath.Join(outDir, fmt.Sprintf("%s_slide_%03d.png", stem, i+1))
		if err := writePNG(path, img); err != nil {
			return nil, fmt.Errorf("failed to write slide %d: %w", i+1, err)
		}
		images = append(images, path)
	}
	return images, nil
}

func writePNG(path string, img image.Image) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}
