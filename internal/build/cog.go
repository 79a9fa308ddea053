package build

import (
	"context"
	"path/filepath"

	"github.com/dronedb/ddb-core/internal/ddberr"
	"github.com/dronedb/ddb-core/internal/pathutil"
)

// cogFastPathEPSG is the only projection spec.md §4.5.1 allows the fast
// path to skip a recompression warp for.
const cogFastPathEPSG = 3857

// cogFastPathBlockSizes are the square power-of-two block sizes spec.md
// §4.5.1 accepts.
var cogFastPathBlockSizes = map[int]bool{256: true, 512: true}

// jpegQuality is the fixed quality spec.md §4.5.1 specifies for JPEG
// compression of 3/4-byte-per-band rasters with no nodata.
const jpegQuality = 90

// COGInfo is the subset of GDAL raster facts spec.md §4.5.1's fast-path
// check needs.
type COGInfo struct {
	ProjectionEPSG    int
	BlockWidth        int
	BlockHeight       int
	OverviewLevels    int
	Driver            string // "COG" or "GTiff"
	BandBytesPerPixel int
	HasNodata         bool
	NodataValue       float64
}

// COGInspector is the external collaborator over GDAL that reads a
// GeoTIFF's projection, block layout, overview count, and driver.
type COGInspector interface {
	Inspect(ctx context.Context, path string) (COGInfo, error)
}

// WarpOptions configures the fallback warp-to-COG spec.md §4.5.1 falls
// back to when the fast path's conditions aren't all met.
type WarpOptions struct {
	Compression string // "JPEG" or "LZW"
	JPEGQuality int
	BigTiff     string // always "IF_SAFER" per spec.md §4.5.1
	NoData      *float64
}

// GDALWarper is the external collaborator over GDAL's multi-threaded warp
// that produces the fallback COG.
type GDALWarper interface {
	WarpToCOG(ctx context.Context, src, dst string, opts WarpOptions) error
}

type cogBuilder struct {
	inspector COGInspector
	warper    GDALWarper
}

// build implements spec.md §4.5.1: copy the source untouched when it
// already satisfies every fast-path condition, otherwise warp to EPSG:3857
// with JPEG q90 (3/4 byte-per-band channels, no nodata) or LZW compression
// and BIGTIFF=IF_SAFER, forwarding any nodata value through -dstnodata.
func (c *cogBuilder) build(ctx context.Context, src, dir string) error {
	if c.inspector == nil || c.warper == nil {
		return ddberr.New(ddberr.KindBuildDepMissing, "build.buildCOG", nil)
	}

	dst := filepath.Join(dir, "cog.tif")

	info, err := c.inspector.Inspect(ctx, src)
	if err != nil {
		return ddberr.New(ddberr.KindGDAL, "build.buildCOG", err)
	}

	if isFastPathEligible(info) {
		return pathutil.SafeCopy(src, dst)
	}

	opts := warpOptionsFor(info)

	if err := c.warper.WarpToCOG(ctx, src, dst, opts); err != nil {
		return ddberr.New(ddberr.KindGDAL, "build.buildCOG", err)
	}

	return nil
}

// isFastPathEligible implements spec.md §4.5.1's four-condition check:
// "projection = EPSG:3857; raster blocks are square powers of two in
// {256, 512}; ≥ 1 overview level present; driver is COG or GTiff."
func isFastPathEligible(info COGInfo) bool {
	return info.ProjectionEPSG == cogFastPathEPSG &&
		info.BlockWidth == info.BlockHeight &&
		cogFastPathBlockSizes[info.BlockWidth] &&
		info.OverviewLevels >= 1 &&
		(info.Driver == "COG" || info.Driver == "GTiff")
}

// warpOptionsFor implements spec.md §4.5.1's compression choice: "JPEG+
// quality 90 when 3 or 4 bytes-per-band channels AND no nodata; otherwise
// LZW. Always BIGTIFF=IF_SAFER. When nodata is present, forward it through
// -dstnodata."
func warpOptionsFor(info COGInfo) WarpOptions {
	opts := WarpOptions{BigTiff: "IF_SAFER"}

	useJPEG := (info.BandBytesPerPixel == 3 || info.BandBytesPerPixel == 4) && !info.HasNodata
	if useJPEG {
		opts.Compression = "JPEG"
		opts.JPEGQuality = jpegQuality
	} else {
		opts.Compression = "LZW"
	}

	if info.HasNodata {
		nodata := info.NodataValue
		opts.NoData = &nodata
	}

	return opts
}
