package entry

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDepth(t *testing.T) {
	require.Equal(t, 0, Depth(""))
	require.Equal(t, 0, Depth("a.jpg"))
	require.Equal(t, 2, Depth("a/b/c.jpg"))
}

func TestClassifyByExtension(t *testing.T) {
	cases := map[string]Type{
		"readme.md":    Markdown,
		"scan.laz":     PointCloud,
		"mesh.obj":     Model,
		"area.geojson": Vector,
		"photo.jpg":    Image,
		"clip.mp4":     Video,
		"data.bin":     Generic,
	}

	for path, want := range cases {
		require.Equal(t, want, ClassifyByExtension(path), path)
	}
}

type fakeImageProbe struct {
	meta ImageMetadata
	ok   bool
}

func (f fakeImageProbe) Probe(string) (ImageMetadata, bool, error) {
	return f.meta, f.ok, nil
}

func TestClassifyGeoImage(t *testing.T) {
	c := &Classifier{Image: fakeImageProbe{
		ok: true,
		meta: ImageMetadata{
			Width: 4000, Height: 3000,
			HasGeolocation: true,
			Geo:            Point{Lon: 12.5, Lat: 41.9, Alt: 100},
			SensorWidth:    6.3, FocalLength: 4.0,
			RelativeAlt: 50, YawDeg: 0, PitchDeg: -90,
		},
	}}

	typ, point, poly, err := c.Classify("photo.JPG")
	require.NoError(t, err)
	require.Equal(t, GeoImage, typ)
	require.NotNil(t, point)
	require.NotNil(t, poly)
	require.Len(t, poly.Points, 5)
	require.Equal(t, poly.Points[0], poly.Points[4])
}

func TestClassifyPanorama(t *testing.T) {
	c := &Classifier{Image: fakeImageProbe{
		ok: true,
		meta: ImageMetadata{
			Width: 8000, Height: 4000,
		},
	}}

	typ, _, _, err := c.Classify("pano.jpg")
	require.NoError(t, err)
	require.Equal(t, Panorama, typ)
}

func TestComputeFootprintNadir(t *testing.T) {
	meta := ImageMetadata{
		Width: 4000, Height: 3000,
		Geo:         Point{Lon: 0, Lat: 0, Alt: 100},
		SensorWidth: 6.3, FocalLength: 4.0,
		RelativeAlt: 50, YawDeg: 0, PitchDeg: -90,
	}

	poly, err := ComputeFootprint(meta)
	require.NoError(t, err)
	require.Len(t, poly.Points, 5)

	// Nadir shot centered near the origin: all corners should be within a
	// few hundred meters (a few thousandths of a degree) of (0,0).
	for _, p := range poly.Points {
		require.Less(t, math.Abs(p.Lon), 0.01)
		require.Less(t, math.Abs(p.Lat), 0.01)
	}
}

func TestComputeFootprintRejectsMissingFocalLength(t *testing.T) {
	_, err := ComputeFootprint(ImageMetadata{Width: 100, Height: 100, RelativeAlt: 10})
	require.Error(t, err)
}

func writePly(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "model.ply")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

func TestClassifyPlyWithFacesIsModel(t *testing.T) {
	path := writePly(t, "ply\nformat ascii 1.0\n"+
		"element vertex 4\nproperty float x\nproperty float y\nproperty float z\n"+
		"element face 2\nproperty list uchar int vertex_indices\n"+
		"end_header\n")

	c := &Classifier{}

	typ, point, poly, err := c.Classify(path)
	require.NoError(t, err)
	require.Equal(t, Model, typ)
	require.Nil(t, point)
	require.Nil(t, poly)
}

func TestClassifyPlyWithoutFacesIsPointCloud(t *testing.T) {
	path := writePly(t, "ply\nformat ascii 1.0\n"+
		"element vertex 1000\nproperty float x\nproperty float y\nproperty float z\n"+
		"end_header\n")

	c := &Classifier{}

	typ, _, _, err := c.Classify(path)
	require.NoError(t, err)
	require.Equal(t, PointCloud, typ)
}

func TestClassifyPlyWithZeroFaceCountIsPointCloud(t *testing.T) {
	path := writePly(t, "ply\nformat ascii 1.0\n"+
		"element vertex 1000\nproperty float x\nproperty float y\nproperty float z\n"+
		"element face 0\nproperty list uchar int vertex_indices\n"+
		"end_header\n")

	c := &Classifier{}

	typ, _, _, err := c.Classify(path)
	require.NoError(t, err)
	require.Equal(t, PointCloud, typ)
}
