// Package pdf implements the PDF rasterizer and georeference extractor ports.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// DefaultPdftoppmPath is looked up on PATH.
const DefaultPdftoppmPath = "pdftoppm"

// DefaultDPI is used when the caller passes a non-positive resolution.
const DefaultDPI = 300

// Rasterizer renders the first page of a PDF with poppler's pdftoppm.
type Rasterizer struct {
	path   string
	tmpDir string
	logger *zap.Logger
}

var _ output.PDFRasterizer = (*Rasterizer)(nil)

// NewRasterizer creates a rasterizer. An empty path uses DefaultPdftoppmPath
// and an empty tmpDir uses the system temp directory.
func NewRasterizer(path, tmpDir string, logger *zap.Logger) *Rasterizer {
	if path == "" {
		path = DefaultPdftoppmPath
	}
	return &Rasterizer{
		path:   path,
		tmpDir: tmpDir,
		logger: logger.With(zap.String("component", "pdf_rasterizer")),
	}
}

// Available reports whether the pdftoppm binary can be found.
func (r *Rasterizer) Available() bool {
	_, err := exec.LookPath(r.path)
	return err == nil
}

// Rasterize implements output.PDFRasterizer.
func (r *Rasterizer) Rasterize(ctx context.Context, pdf []byte, dpi int) (image.Image, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	dir, err := os.MkdirTemp(r.tmpDir, "terestria-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	input := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(input, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("writing pdf: %w", err)
	}

	// -singlefile writes <prefix>.png without a page suffix.
	prefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, r.path,
		"-f", "1", "-l", "1",
		"-r", strconv.Itoa(dpi),
		"-png", "-singlefile",
		input, prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.logger.Debug("running pdftoppm", zap.Int("dpi", dpi), zap.Int("pdf_bytes", len(pdf)))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: pdftoppm: %s", domain.ErrRasterize, msg)
	}

	f, err := os.Open(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("%w: no output image: %v", domain.ErrRasterize, err)
	}
	defer func() { _ = f.Close() }()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding output: %v", domain.ErrRasterize, err)
	}

	b := img.Bounds()
	r.logger.Debug("pdf rasterized", zap.Int("width", b.Dx()), zap.Int("height", b.Dy()))
	return img, nil
}
