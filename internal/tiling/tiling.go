// Package tiling implements DroneDB's on-demand tile cache (spec.md §4.4,
// component C8): it serves one tile of a georaster or point cloud at
// (z, x, y), building it on first request and reusing the cached PNG on
// every subsequent one. Raster/point-cloud extraction is pluggable, the
// same way internal/entry keeps GDAL/PDAL behind probe interfaces — this
// package only owns cache layout, concurrency, and pixel assembly.
package tiling

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dronedb/ddb-core/internal/ddberr"
	"github.com/dronedb/ddb-core/internal/entry"
	"github.com/dronedb/ddb-core/internal/hashutil"
)

// DefaultTileSize is the tile edge length spec.md §4.4 calls "256×256 (or
// configured size)" when no explicit size is requested.
const DefaultTileSize = 256

// sweepMaxAge is the cache directory age spec.md §4.4.1 sweeps at:
// "a periodic sweep removes cache directories whose directory-mtime is
// older than 5 days."
const sweepMaxAge = 5 * 24 * time.Hour

// Cache serves tiles out of a user-profile tiles directory, per spec.md
// §6.1 ("$HOME/.ddb/tiles/<crc64>/<z>/<x>/<y>.png").
type Cache struct {
	dir          string
	raster       GeoRasterSource
	geoprojector ImageGeoprojector
	ept          EPTSource
	logger       *slog.Logger
}

// NewCache constructs a Cache rooted at dir (typically the user profile's
// tiles directory). Any of raster, geoprojector, ept may be nil if the
// corresponding pipeline is never exercised by the caller — GetTile returns
// a BuildDepMissing error in that case rather than panicking.
func NewCache(dir string, raster GeoRasterSource, geoprojector ImageGeoprojector, ept EPTSource, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{dir: dir, raster: raster, geoprojector: geoprojector, ept: ept, logger: logger}
}

// TileRequest identifies one tile to build or fetch, per spec.md §4.4.1's
// cache key inputs.
type TileRequest struct {
	SourcePath    string // local path or URL; see §4.4.5 for the URL case
	SourceMtime   int64  // unix seconds; 0 for remote sources with no known mtime
	TileSize      int    // 0 defaults to DefaultTileSize
	Z, X, Y       int
	ForceRecreate bool
	// ContentHash, when non-empty, is the caller-supplied a-priori
	// fingerprint spec.md §4.4.5 uses to skip downloading a remote source
	// that is already cached under <hash>.<ext>.
	ContentHash string
	// Footprint carries the four ground-corner GCPs spec.md §4.4.2 step 1
	// uses to geoproject a plain (non-georeferenced) image. Required only
	// when SourcePath names a plain image rather than an already-georeferenced
	// raster.
	Footprint *entry.Polygon
}

// CacheKey derives the cache directory name for a source, per spec.md
// §4.4.1: CRC64(source_path + "*" + mtime + "*" + tile_size).
func CacheKey(sourcePath string, mtime int64, tileSize int) string {
	return hashutil.CRC64String(fmt.Sprintf("%s*%d*%d", sourcePath, mtime, tileSize))
}

func (c *Cache) tileDir(req TileRequest) string {
	return filepath.Join(c.dir, CacheKey(req.SourcePath, req.SourceMtime, tileSize(req)))
}

func tileSize(req TileRequest) int {
	if req.TileSize <= 0 {
		return DefaultTileSize
	}

	return req.TileSize
}

func (c *Cache) tilePath(req TileRequest) string {
	return filepath.Join(c.tileDir(req),
		strconv.Itoa(req.Z), strconv.Itoa(req.X), strconv.Itoa(req.Y)+".png")
}

// GetTile implements spec.md §4.4.4's concurrency policy: derive the path
// deterministically, return it immediately if present and force_recreate is
// false, otherwise build it under a scoped filesystem lock with a re-check
// after acquisition. It returns the absolute path to the finished PNG.
func (c *Cache) GetTile(ctx context.Context, req TileRequest) (string, error) {
	dest := c.tilePath(req)

	if !req.ForceRecreate {
		if _, err := os.Stat(dest); err == nil {
			return dest, nil
		}
	}

	source, err := c.resolveSource(ctx, req)
	if err != nil {
		return "", err
	}

	err = withLock(ctx, dest, func() error {
		if !req.ForceRecreate {
			if _, err := os.Stat(dest); err == nil {
				return nil
			}
		}

		return c.buildTile(ctx, req, source, dest)
	})
	if err != nil {
		return "", err
	}

	return dest, nil
}

// resolveSource implements spec.md §4.4.5 (download remote sources under a
// file lock) and, for plain images, §4.4.2 step 1 (geoproject onto WGS84
// before any tile can be cut from it). It returns a local path ready to be
// windowed by the raster/EPT pipelines.
func (c *Cache) resolveSource(ctx context.Context, req TileRequest) (string, error) {
	local := req.SourcePath

	if isRemoteURL(local) {
		downloaded, err := c.downloadRemote(ctx, req)
		if err != nil {
			return "", err
		}

		local = downloaded
	}

	if isEPT(local) {
		if c.ept == nil {
			return "", ddberr.New(ddberr.KindBuildDepMissing, "tiling.GetTile", nil)
		}

		return local, nil
	}

	if c.raster == nil {
		return "", ddberr.New(ddberr.KindBuildDepMissing, "tiling.GetTile", nil)
	}

	wkt, ok, err := c.raster.Info(ctx, local)
	if err != nil {
		return "", ddberr.New(ddberr.KindGDAL, "tiling.GetTile", err)
	}

	if ok && wkt != "" {
		return local, nil
	}

	if req.Footprint == nil || c.geoprojector == nil {
		return "", ddberr.New(ddberr.KindBuildDepMissing, "tiling.GetTile", fmt.Errorf("source has no projection and cannot be geoprojected"))
	}

	return c.geoprojectedPath(ctx, req, local)
}

// geoprojectedPath runs the plain-image geoprojection step under a scoped
// lock on its own output path, per spec.md §4.4.4 ("Geoprojection is
// similarly single-flighted on its own output path") and §5's requirement
// that the cache be safe "from multiple parallel threads or processes" —
// the same cross-process-safe withLock GetTile itself uses, not an
// in-process-only singleflight.Group that a second ddb process wouldn't
// share.
func (c *Cache) geoprojectedPath(ctx context.Context, req TileRequest, local string) (string, error) {
	dst := filepath.Join(c.tileDir(req), "geoprojected.tif")

	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	err := withLock(ctx, dst, func() error {
		if _, statErr := os.Stat(dst); statErr == nil {
			return nil
		}

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return ddberr.New(ddberr.KindFilesystem, "tiling.geoproject", err)
		}

		return c.geoprojector.Geoproject(ctx, local, *req.Footprint, dst)
	})
	if err != nil {
		return "", ddberr.New(ddberr.KindGDAL, "tiling.geoproject", err)
	}

	return dst, nil
}

func isEPT(path string) bool {
	return filepath.Base(path) == "ept.json"
}

func isRemoteURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

func (c *Cache) buildTile(ctx context.Context, req TileRequest, source string, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return ddberr.New(ddberr.KindFilesystem, "tiling.GetTile", err)
	}

	bounds := TileBounds(req.Z, req.X, req.Y)
	size := tileSize(req)

	var (
		img tileImage
		err error
	)

	switch {
	case isEPT(source):
		img, err = c.renderEPTTile(ctx, source, bounds, size)
	default:
		img, err = c.renderRasterTile(ctx, source, bounds, size)
	}

	if err != nil {
		return err
	}

	return writePNG(dest, img)
}

// Sweep implements spec.md §4.4.1's periodic cleanup: remove cache
// directories whose directory-mtime is older than 5 days. It returns the
// number of bytes freed.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	return sweepOlderThan(ctx, c.dir, sweepMaxAge)
}

func sweepOlderThan(ctx context.Context, dir string, maxAge time.Duration) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, ddberr.New(ddberr.KindFilesystem, "tiling.Sweep", err)
	}

	var freed int64

	cutoff := time.Now().Add(-maxAge)

	for _, e := range entries {
		select {
		case <-ctx.Done():
			return freed, ctx.Err()
		default:
		}

		if !e.IsDir() {
			continue
		}

		path := filepath.Join(dir, e.Name())

		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		size, err := dirSize(path)
		if err != nil {
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			continue
		}

		freed += size
	}

	return freed, nil
}

func dirSize(root string) (int64, error) {
	var total int64

	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() {
			total += info.Size()
		}

		return nil
	})

	return total, err
}
