package pdf

import (
	"bytes"
	"compress/zlib"
	"context"
	"io"
	"regexp"
	"strconv"

	"github.com/paulmach/orb"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// maxInflatedStream caps a single decompressed stream.
const maxInflatedStream = 64 << 20

var (
	gptsPattern   = regexp.MustCompile(`/GPTS\s*\[([^\]]*)\]`)
	streamPattern = regexp.MustCompile(`(?s)stream\r?\n(.*?)\r?\n?endstream`)
)

// GeoExtractor reads ISO 32000 geospatial measure dictionaries.
type GeoExtractor struct{}

var _ output.GeoreferenceExtractor = GeoExtractor{}

// NewGeoExtractor creates an extractor.
func NewGeoExtractor() GeoExtractor {
	return GeoExtractor{}
}

// Extract implements output.GeoreferenceExtractor. It returns the bounding
// box of every /GPTS point found in the raw file or its deflated streams.
func (GeoExtractor) Extract(ctx context.Context, pdf []byte) (domain.GeoBounds, error) {
	points := gptsPoints(pdf)

	if len(points) == 0 {
		for _, m := range streamPattern.FindAllSubmatch(pdf, -1) {
			if err := ctx.Err(); err != nil {
				return domain.GeoBounds{}, err
			}
			data, ok := inflate(m[1])
			if !ok {
				continue
			}
			points = append(points, gptsPoints(data)...)
		}
	}

	if len(points) == 0 {
		return domain.GeoBounds{}, domain.ErrNoGeoreference
	}

	bounds := domain.BoundsFromOrb(points.Bound())
	if err := bounds.Validate(); err != nil {
		return domain.GeoBounds{}, domain.ErrNoGeoreference
	}
	if bounds.Width() == 0 || bounds.Height() == 0 {
		return domain.GeoBounds{}, domain.ErrNoGeoreference
	}
	return bounds, nil
}

// gptsPoints parses every /GPTS array. Arrays hold lat lon pairs.
func gptsPoints(data []byte) orb.MultiPoint {
	var points orb.MultiPoint
	for _, m := range gptsPattern.FindAllSubmatch(data, -1) {
		fields := bytes.Fields(m[1])
		for i := 0; i+1 < len(fields); i += 2 {
			lat, err1 := strconv.ParseFloat(string(fields[i]), 64)
			lon, err2 := strconv.ParseFloat(string(fields[i+1]), 64)
			if err1 != nil || err2 != nil {
				continue
			}
			if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
				continue
			}
			points = append(points, orb.Point{lon, lat})
		}
	}
	return points
}

func inflate(raw []byte) ([]byte, bool) {
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, false
	}
	defer func() { _ = zr.Close() }()

	// Truncated streams still yield their readable prefix.
	data, _ := io.ReadAll(io.LimitReader(zr, maxInflatedStream))
	return data, len(data) > 0
}
