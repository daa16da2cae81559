package output

import (
	"context"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
)

// BasemapCatalog persists basemap definitions between runs.
type BasemapCatalog interface {
	Load(ctx context.Context) ([]domain.Basemap, error)
	Save(ctx context.Context, basemaps []domain.Basemap) error
}
