// Package catalog persists basemap definitions as a YAML document.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// FormatVersion is written into every catalog file.
const FormatVersion = 1

type document struct {
	Version  int              `yaml:"version"`
	Basemaps []domain.Basemap `yaml:"basemaps"`
}

// YAMLCatalog implements output.BasemapCatalog on a single file.
type YAMLCatalog struct {
	path string
	mu   sync.Mutex
}

var _ output.BasemapCatalog = (*YAMLCatalog)(nil)

// NewYAMLCatalog creates a catalog stored at path.
func NewYAMLCatalog(path string) *YAMLCatalog {
	return &YAMLCatalog{path: path}
}

// Path returns the catalog file path.
func (c *YAMLCatalog) Path() string {
	return c.path
}

// Load reads the catalog. A missing file is an empty catalog.
func (c *YAMLCatalog) Load(_ context.Context) ([]domain.Basemap, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", c.path, err)
	}
	if doc.Version > FormatVersion {
		return nil, fmt.Errorf("catalog %s has unsupported version %d", c.path, doc.Version)
	}
	return doc.Basemaps, nil
}

// Save replaces the catalog. The file is written to a temp file in the same
// directory and renamed into place.
func (c *YAMLCatalog) Save(_ context.Context, basemaps []domain.Basemap) error {
	sorted := make([]domain.Basemap, len(basemaps))
	copy(sorted, basemaps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	data, err := yaml.Marshal(document{Version: FormatVersion, Basemaps: sorted})
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating catalog directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".catalog-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp catalog: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing catalog: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		return fmt.Errorf("replacing catalog: %w", err)
	}
	return nil
}
