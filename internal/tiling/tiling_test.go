package tiling

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dronedb/ddb-core/internal/entry"
)

type fakeRaster struct {
	wkt       string
	calls     int32
	bandValue float64
}

func (f *fakeRaster) Info(_ context.Context, _ string) (string, bool, error) {
	return f.wkt, f.wkt != "", nil
}

func (f *fakeRaster) ReadWindow(_ context.Context, _ string, _ MercatorBounds, size int) (RasterWindow, error) {
	atomic.AddInt32(&f.calls, 1)

	n := size * size
	values := make([]float64, n)

	for i := range values {
		values[i] = f.bandValue
	}

	return RasterWindow{Bands: []RasterBand{{DataType: DataTypeByte, Values: values}}}, nil
}

type fakeGeoprojector struct {
	called int32
}

func (f *fakeGeoprojector) Geoproject(_ context.Context, _ string, _ entry.Polygon, dst string) error {
	atomic.AddInt32(&f.called, 1)

	return os.WriteFile(dst, []byte("fake-tif"), 0o644)
}

func TestCacheKeyDeterministic(t *testing.T) {
	a := CacheKey("/data/photo.tif", 1700000000, 256)
	b := CacheKey("/data/photo.tif", 1700000000, 256)
	require.Equal(t, a, b)
}

func TestGetTileBuildsAndCaches(t *testing.T) {
	dir := t.TempDir()
	raster := &fakeRaster{wkt: "EPSG:3857", bandValue: 128}
	cache := NewCache(dir, raster, nil, nil, nil)

	req := TileRequest{SourcePath: "/data/ortho.tif", SourceMtime: 1700000000, Z: 4, X: 2, Y: 3}

	path, err := cache.GetTile(context.Background(), req)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.EqualValues(t, 1, raster.calls)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	img, err := png.Decode(f)
	require.NoError(t, err)
	require.Equal(t, DefaultTileSize, img.Bounds().Dx())

	// second call must hit the cache, not rebuild.
	path2, err := cache.GetTile(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, path, path2)
	require.EqualValues(t, 1, raster.calls)
}

func TestGetTileForceRecreateRebuilds(t *testing.T) {
	dir := t.TempDir()
	raster := &fakeRaster{wkt: "EPSG:3857", bandValue: 10}
	cache := NewCache(dir, raster, nil, nil, nil)

	req := TileRequest{SourcePath: "/data/ortho.tif", Z: 1, X: 0, Y: 0}

	_, err := cache.GetTile(context.Background(), req)
	require.NoError(t, err)

	req.ForceRecreate = true
	_, err = cache.GetTile(context.Background(), req)
	require.NoError(t, err)

	require.EqualValues(t, 2, raster.calls)
}

func TestGetTileGeoprojectsPlainImage(t *testing.T) {
	dir := t.TempDir()
	raster := &fakeRaster{wkt: ""} // no projection -> needs geoprojection
	proj := &fakeGeoprojector{}
	cache := NewCache(dir, raster, proj, nil, nil)

	req := TileRequest{
		SourcePath: "/data/plain.jpg",
		Z:          2, X: 1, Y: 1,
		Footprint: &entry.Polygon{Points: []entry.Point{
			{Lon: 0, Lat: 0}, {Lon: 0, Lat: 1}, {Lon: 1, Lat: 1}, {Lon: 1, Lat: 0}, {Lon: 0, Lat: 0},
		}},
	}

	_, err := cache.GetTile(context.Background(), req)
	require.NoError(t, err)
	require.EqualValues(t, 1, proj.called)
}

func TestGetTileMissingRasterSourceErrors(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(dir, nil, nil, nil, nil)

	_, err := cache.GetTile(context.Background(), TileRequest{SourcePath: "/x.tif"})
	require.Error(t, err)
}

func TestSweepRemovesOldCacheDirs(t *testing.T) {
	dir := t.TempDir()

	old := filepath.Join(dir, "old-key")
	require.NoError(t, os.MkdirAll(old, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(old, "0"), []byte("x"), 0o644))

	oldTime := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, oldTime, oldTime))

	fresh := filepath.Join(dir, "fresh-key")
	require.NoError(t, os.MkdirAll(fresh, 0o755))

	cache := NewCache(dir, nil, nil, nil, nil)

	freed, err := cache.Sweep(context.Background())
	require.NoError(t, err)
	require.Positive(t, freed)

	require.NoDirExists(t, old)
	require.DirExists(t, fresh)
}
