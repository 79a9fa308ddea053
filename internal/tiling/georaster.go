package tiling

import (
	"context"
	"image/color"

	"github.com/dronedb/ddb-core/internal/entry"
)

// DataType distinguishes an already-8-bit raster band from one that needs
// the per-band min/max rescale spec.md §4.4.2 step 2 requires.
type DataType int

// Raster pixel data types relevant to tile rendering.
const (
	DataTypeByte DataType = iota
	DataTypeOther
)

// RasterBand is one band's pixel values for a window already resampled to
// outSize×outSize, in row-major order.
type RasterBand struct {
	DataType DataType
	Values   []float64
}

// RasterWindow is the windowed read spec.md §4.4.2 step 2 describes:
// "read (bands, alpha)". Alpha is nil when the source has no alpha band.
type RasterWindow struct {
	Bands []RasterBand
	Alpha []float64 // same length as each band's Values; nil if absent
}

// GeoRasterSource is the external collaborator over GDAL that supplies
// projection metadata and reprojected pixel windows. Mirrors the
// ImageMetadataProbe/RasterProbe pattern in internal/entry: the core
// specifies what must be extracted, not how (spec.md §1).
type GeoRasterSource interface {
	// Info reports whether path already carries a non-empty projection, per
	// spec.md §4.4.2 step 1's "if it's already a georaster".
	Info(ctx context.Context, path string) (projectionWKT string, ok bool, err error)

	// ReadWindow returns a bounds-aligned, outSize×outSize window of path's
	// pixel data already reprojected to EPSG:3857.
	ReadWindow(ctx context.Context, path string, bounds MercatorBounds, outSize int) (RasterWindow, error)
}

// ImageGeoprojector places a plain (non-georeferenced) image onto WGS84
// using four ground-control points, per spec.md §4.4.2 step 1: "warp with
// alpha and JPEG compression into <cache>/geoprojected.tif".
type ImageGeoprojector interface {
	Geoproject(ctx context.Context, srcPath string, corners entry.Polygon, dstPath string) error
}

// renderRasterTile implements spec.md §4.4.2 steps 2-3: read the bounds-
// aligned window, rescale non-Byte bands to 0-255, and assemble an RGB(A)
// tileImage.
func (c *Cache) renderRasterTile(ctx context.Context, source string, bounds MercatorBounds, size int) (tileImage, error) {
	window, err := c.raster.ReadWindow(ctx, source, bounds, size)
	if err != nil {
		return tileImage{}, err
	}

	bands := make([][]uint8, len(window.Bands))

	for i, b := range window.Bands {
		if b.DataType == DataTypeByte {
			bands[i] = floatToByteDirect(b.Values)
		} else {
			min, max := bandMinMax(b.Values)
			bands[i] = rescaleToByte(b.Values, min, max)
		}
	}

	var alpha []uint8
	if window.Alpha != nil {
		alpha = floatToByteDirect(window.Alpha)
	}

	return assembleImage(size, bands, alpha), nil
}

// floatToByteDirect clamps already-0-255-ranged float samples to uint8
// without rescaling, for bands spec.md §4.4.2 step 2 calls "Byte" type.
func floatToByteDirect(values []float64) []uint8 {
	out := make([]uint8, len(values))

	for i, v := range values {
		switch {
		case v < 0:
			out[i] = 0
		case v > 255:
			out[i] = 255
		default:
			out[i] = uint8(v)
		}
	}

	return out
}

// assembleImage packs 1, 3, or 4 grayscale/RGB(A) bands into an RGBA
// tileImage; a single band is broadcast across R, G, B.
func assembleImage(size int, bands [][]uint8, alpha []uint8) tileImage {
	img := newTileImage(size)

	get := func(band []uint8, i int) uint8 {
		if i < len(band) {
			return band[i]
		}

		return 0
	}

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := y*size + x

			var r, g, b uint8

			switch len(bands) {
			case 0:
				r, g, b = 0, 0, 0
			case 1:
				r = get(bands[0], i)
				g, b = r, r
			default:
				r = get(bands[0], i)
				g = get(bands[1], i)
				b = get(bands[2], i)
			}

			a := uint8(255)
			if alpha != nil {
				a = get(alpha, i)
			}

			img.set(x, y, color.NRGBA{R: r, G: g, B: b, A: a})
		}
	}

	return img
}
