package pdf

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
)

func deflate(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractPlainGPTS(t *testing.T) {
	pdf := []byte("%PDF-1.7\n1 0 obj\n<< /Type /Measure /Subtype /GEO " +
		"/GPTS [ -6.20 106.80 -6.10 106.80 -6.10 106.90 -6.20 106.90 ] >>\nendobj\n%%EOF")

	b, err := NewGeoExtractor().Extract(context.Background(), pdf)
	require.NoError(t, err)
	assert.InDelta(t, -6.20, b.MinLat, 1e-9)
	assert.InDelta(t, -6.10, b.MaxLat, 1e-9)
	assert.InDelta(t, 106.80, b.MinLon, 1e-9)
	assert.InDelta(t, 106.90, b.MaxLon, 1e-9)
}

func TestExtractCompressedObjectStream(t *testing.T) {
	body := deflate(t, "<< /Subtype /GEO /GPTS [10 20 11 20 11 21.5 10 21.5] >>")
	var pdf bytes.Buffer
	fmt.Fprintf(&pdf, "%%PDF-1.7\n5 0 obj\n<< /Type /ObjStm /Filter /FlateDecode /Length %d >>\nstream\n", len(body))
	pdf.Write(body)
	pdf.WriteString("\nendstream\nendobj\n%%EOF")

	b, err := NewGeoExtractor().Extract(context.Background(), pdf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, domain.GeoBounds{MinLat: 10, MinLon: 20, MaxLat: 11, MaxLon: 21.5}, b)
}

func TestExtractNoGeoreference(t *testing.T) {
	tests := []struct {
		name string
		pdf  []byte
	}{
		{name: "no measure", pdf: []byte("%PDF-1.4\n1 0 obj << /Type /Page >> endobj\n%%EOF")},
		{name: "degenerate", pdf: []byte("/GPTS [1 2 1 2]")},
		{name: "out of range", pdf: []byte("/GPTS [95 200 96 201]")},
		{name: "garbage stream", pdf: []byte("stream\nnot zlib at all\nendstream")},
		{name: "empty", pdf: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGeoExtractor().Extract(context.Background(), tt.pdf)
			assert.ErrorIs(t, err, domain.ErrNoGeoreference)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}
