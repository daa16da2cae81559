package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SandiRizqi/terestria-sub000/internal/application"
	"github.com/SandiRizqi/terestria-sub000/internal/domain"
)

type fakeRegistry struct {
	basemaps   map[string]domain.Basemap
	registered []application.RegisterRequest
}

func (f *fakeRegistry) Get(_ context.Context, id string) (domain.Basemap, error) {
	b, ok := f.basemaps[id]
	if !ok {
		return domain.Basemap{}, fmt.Errorf("%q: %w", id, domain.ErrBasemapNotFound)
	}
	return b, nil
}

func (f *fakeRegistry) Register(_ context.Context, req application.RegisterRequest) (domain.Basemap, error) {
	f.registered = append(f.registered, req)
	b := domain.Basemap{ID: req.ID, Kind: domain.BasemapRemote, URLTemplate: req.URLTemplate, Bounds: req.Bounds}
	f.basemaps[req.ID] = b
	return b, nil
}

func newDownloadFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "download"}
	addDownloadFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestDownloadRequestUsesBasemapDefaults(t *testing.T) {
	bounds := domain.GeoBounds{MinLat: 40.7, MinLon: -74.05, MaxLat: 40.75, MaxLon: -73.95}
	reg := &fakeRegistry{basemaps: map[string]domain.Basemap{
		"osm":  {ID: "osm", Kind: domain.BasemapRemote, URLTemplate: "https://tiles.test/{z}/{x}/{y}.png", Bounds: &bounds},
		"topo": {ID: "topo", Kind: domain.BasemapPDF},
	}}

	cmd := newDownloadFlags(t, "--min-zoom", "12", "--max-zoom", "14")
	req, err := downloadRequest(context.Background(), cmd, reg, "osm")
	require.NoError(t, err)
	assert.Equal(t, "https://tiles.test/{z}/{x}/{y}.png", req.URLTemplate)
	assert.Equal(t, bounds, req.Bounds)
	assert.Equal(t, 12, req.MinZoom)
	assert.Equal(t, 14, req.MaxZoom)

	_, err = downloadRequest(context.Background(), cmd, reg, "topo")
	assert.Error(t, err)

	_, err = downloadRequest(context.Background(), cmd, reg, "missing")
	assert.ErrorIs(t, err, domain.ErrBasemapNotFound)
}

func TestDownloadRequestRegistersUnknownBasemap(t *testing.T) {
	reg := &fakeRegistry{basemaps: map[string]domain.Basemap{}}

	cmd := newDownloadFlags(t,
		"--url-template", "https://sat.test/{z}/{x}/{-y}.png",
		"--bbox", "10,50,11,51",
		"--max-zoom", "8")
	req, err := downloadRequest(context.Background(), cmd, reg, "sat")
	require.NoError(t, err)
	require.Len(t, reg.registered, 1)
	assert.Equal(t, "sat", reg.registered[0].ID)
	assert.Equal(t, 50.0, req.Bounds.MinLat)
	assert.Equal(t, 0, req.MinZoom)
}

func TestDownloadRequestRejectsTemplateOverride(t *testing.T) {
	bounds := domain.GeoBounds{MinLat: 40.7, MinLon: -74.05, MaxLat: 40.75, MaxLon: -73.95}
	reg := &fakeRegistry{basemaps: map[string]domain.Basemap{
		"osm": {ID: "osm", Kind: domain.BasemapRemote, URLTemplate: "https://tiles.test/{z}/{x}/{y}.png", Bounds: &bounds},
	}}

	cmd := newDownloadFlags(t, "--url-template", "https://other.test/{z}/{x}/{y}.png", "--max-zoom", "3")
	_, err := downloadRequest(context.Background(), cmd, reg, "osm")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	cmd = newDownloadFlags(t, "--url-template", "https://tiles.test/{z}/{x}/{y}.png", "--max-zoom", "3")
	req, err := downloadRequest(context.Background(), cmd, reg, "osm")
	require.NoError(t, err)
	assert.Equal(t, "https://tiles.test/{z}/{x}/{y}.png", req.URLTemplate)
}

func TestDownloadRequestRejectsBadBBox(t *testing.T) {
	reg := &fakeRegistry{basemaps: map[string]domain.Basemap{}}

	for _, bbox := range []string{"1,2,3", "a,2,3,4", "10,50,5,55"} {
		cmd := newDownloadFlags(t, "--bbox", bbox, "--max-zoom", "3")
		_, err := downloadRequest(context.Background(), cmd, reg, "osm")
		assert.ErrorIs(t, err, domain.ErrInvalidInput, bbox)
	}
	assert.Empty(t, reg.registered)
}

func TestDownloadRequestNeedsBounds(t *testing.T) {
	reg := &fakeRegistry{basemaps: map[string]domain.Basemap{
		"osm": {ID: "osm", Kind: domain.BasemapRemote, URLTemplate: "https://tiles.test/{z}/{x}/{y}.png"},
	}}

	cmd := newDownloadFlags(t, "--max-zoom", "3")
	_, err := downloadRequest(context.Background(), cmd, reg, "osm")
	assert.ErrorContains(t, err, "--bbox")
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{15 * 1024 * 1024, "15.0 MiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}
