package tiling

import (
	"context"
	"image/color"
	"math"
)

// EPTPoint is one sample returned by an EPTSource query, already reprojected
// to EPSG:3857 meters (spec.md §4.4.3 step 2) with its RGB color.
type EPTPoint struct {
	X, Y    float64
	R, G, B uint8
}

// EPTSource is the external collaborator over a PDAL/EPT reader that
// answers bounded point queries. Mirrors internal/entry.PointCloudProbe:
// the core specifies what's needed, not how it's read (spec.md §1).
type EPTSource interface {
	// Query returns the points from the ept.json dataset at path falling
	// within bounds, restricted by resolutionHint (a minimum point spacing
	// in EPSG:3857 meters used to subsample dense clouds), per spec.md
	// §4.4.3 step 1.
	Query(ctx context.Context, path string, bounds MercatorBounds, resolutionHint float64) ([]EPTPoint, error)
}

// eptResolutionHint is a conservative resolution hint: one sample per
// output pixel across the tile's mercator footprint.
func eptResolutionHint(bounds MercatorBounds, size int) float64 {
	span := bounds.MaxX - bounds.MinX
	if size <= 0 {
		return span
	}

	return span / float64(size)
}

// renderEPTTile implements spec.md §4.4.3: query points in bounds, then
// rasterize them into a size×size RGB buffer by rounding each point's
// offset from the tile's minimum corner to a pixel coordinate, skipping
// points that land outside the tile.
func (c *Cache) renderEPTTile(ctx context.Context, source string, bounds MercatorBounds, size int) (tileImage, error) {
	points, err := c.ept.Query(ctx, source, bounds, eptResolutionHint(bounds, size))
	if err != nil {
		return tileImage{}, err
	}

	img := newTileImage(size)

	span := bounds.MaxX - bounds.MinX
	if span <= 0 {
		return img, nil
	}

	scale := span / float64(size)

	for _, p := range points {
		px := int(math.Round((p.X - bounds.MinX) / scale))
		// Y is flipped: mercator Y increases northward, pixel Y increases
		// downward from the tile's top (maxY).
		py := int(math.Round((bounds.MaxY - p.Y) / scale))

		if px < 0 || py < 0 || px >= size || py >= size {
			continue
		}

		img.set(px, py, color.NRGBA{R: p.R, G: p.G, B: p.B, A: 255})
	}

	return img, nil
}
