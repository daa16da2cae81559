package domain

import (
	"regexp"
	"time"
)

// BasemapKind distinguishes remote tile sources from PDF imports.
type BasemapKind string

// Basemap kinds.
const (
	BasemapRemote BasemapKind = "remote"
	BasemapPDF    BasemapKind = "pdf"
)

// BasemapStatus is the processing state of a basemap.
type BasemapStatus string

// Basemap status values.
const (
	StatusPending    BasemapStatus = "pending"
	StatusProcessing BasemapStatus = "processing"
	StatusReady      BasemapStatus = "ready"
	StatusFailed     BasemapStatus = "failed"
)

// Basemap is a named tile source.
type Basemap struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Kind        BasemapKind   `json:"kind" yaml:"kind"`
	URLTemplate string        `json:"url_template,omitempty" yaml:"url_template,omitempty"`
	Source      string        `json:"source,omitempty" yaml:"source,omitempty"`
	Bounds      *GeoBounds    `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	Zooms       *ZoomPlan     `json:"zooms,omitempty" yaml:"zooms,omitempty"`
	TileCount   int64         `json:"tile_count,omitempty" yaml:"tile_count,omitempty"`
	Status      BasemapStatus `json:"status" yaml:"status"`
	Progress    float64       `json:"progress" yaml:"progress"`
	Message     string        `json:"message,omitempty" yaml:"message,omitempty"`
	CreatedAt   time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" yaml:"updated_at"`
}

// IsReady returns true if tiles may be served.
func (b *Basemap) IsReady() bool {
	return b.Status == StatusReady
}

// IsRemote returns true for basemaps backed by a URL template.
func (b *Basemap) IsRemote() bool {
	return b.Kind == BasemapRemote
}

// DownloadTemplate returns the URL template offline downloads of b use.
// override may be empty or repeat b's own template; tiles of one basemap
// always come from one source.
func (b *Basemap) DownloadTemplate(override string) (string, error) {
	if override != "" && override != b.URLTemplate {
		return "", &ValidationError{
			Field:      "url_template",
			Value:      override,
			Constraint: b.URLTemplate,
			Message:    "url template differs from the basemap's template",
		}
	}
	return b.URLTemplate, nil
}

var basemapIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidateBasemapID checks that id is usable as a store file name.
func ValidateBasemapID(id string) error {
	if !basemapIDPattern.MatchString(id) {
		return &ValidationError{
			Field:      "basemap_id",
			Value:      id,
			Constraint: basemapIDPattern.String(),
			Message:    "basemap id must be 1-64 letters, digits, '.', '_' or '-'",
		}
	}
	return nil
}
