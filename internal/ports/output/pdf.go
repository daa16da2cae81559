package output

import (
	"context"
	"image"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
)

// PDFRasterizer renders the first page of a PDF into a bitmap.
type PDFRasterizer interface {
	Rasterize(ctx context.Context, pdf []byte, dpi int) (image.Image, error)
}

// GeoreferenceExtractor reads embedded geographic bounds from a PDF.
// It returns domain.ErrNoGeoreference when the PDF carries none.
type GeoreferenceExtractor interface {
	Extract(ctx context.Context, pdf []byte) (domain.GeoBounds, error)
}
