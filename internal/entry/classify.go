package entry

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// extensionTypes maps a lowercase file extension (with leading dot) to the
// Type it implies before any content probing happens (spec.md §4.1.3 step 1).
// Extensions not listed here fall through to finer per-family classification
// (images/videos/tiffs) or Generic.
var extensionTypes = map[string]Type{
	".md":       Markdown,
	".markdown": Markdown,
	".las":      PointCloud,
	".laz":      PointCloud,
	".obj":      Model,
	".geojson":  Vector,
	".json":     Vector, // every .json file classifies as Vector; its content is not checked for GeoJSON
	".shp":      Vector,
	".dxf":      Vector,
	".gpkg":     Vector,
	".kml":      Vector,
	".kmz":      Vector,
	".gpx":      Vector,
}

// imageExtensions are probed for EXIF/XMP geolocation and panorama framing
// (spec.md §4.1.3 step 2).
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".tif": true, ".tiff": true,
}

// videoExtensions are probed the same way as images, for GeoVideo detection.
var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
}

// tiffExtensions identifies files that might be GeoRaster (spec.md §4.1.3
// step 4: "a TIFF whose projection ref is non-empty").
var tiffExtensions = map[string]bool{
	".tif": true, ".tiff": true,
}

// plyExtensions identifies files resolved by first-line header inspection
// into PointCloud or Model (spec.md line 113), not by a fixed extension
// mapping — so they're deliberately absent from extensionTypes.
var plyExtensions = map[string]bool{
	".ply": true,
}

// panoramaAspectRatio is the width/height threshold spec.md §4.1.3 step 2
// uses to flag an image as a Panorama candidate.
const panoramaAspectRatio = 2.0

// ImageMetadataProbe extracts the EXIF/XMP facts DroneDB needs from an image
// or video file. Spec.md §1 specifies this as an external collaborator ("we
// specify what must be extracted, not how") — the concrete implementation is
// expected to wrap a real EXIF/XMP library or GDAL/GExiv2 binding.
type ImageMetadataProbe interface {
	// Probe returns the fields needed for classification and footprint
	// computation. ok is false when the file carries no usable metadata.
	Probe(path string) (ImageMetadata, bool, error)
}

// ImageMetadata is the subset of EXIF/XMP facts spec.md §4.1.3/§4.1.4 needs.
type ImageMetadata struct {
	Width, Height int
	HasGeolocation bool
	Geo            Point
	SensorWidth    float64 // mm
	FocalLength    float64 // mm
	RelativeAlt    float64 // meters, camera above ground
	YawDeg         float64
	PitchDeg       float64
	RollDeg        float64
}

// RasterProbe extracts geotransform/projection/band facts from a raster
// file. External collaborator over GDAL (spec.md §1, §4.1.3 step 4).
type RasterProbe interface {
	Probe(path string) (RasterMetadata, bool, error)
}

// RasterMetadata is the subset of GDAL facts spec.md §4.1.3 step 4 needs.
type RasterMetadata struct {
	ProjectionWKT string
	Geotransform  [6]float64
	Bands         int
	Width, Height int
}

// PointCloudProbe extracts point count/dimensions/SRS/bounds from a point
// cloud file. External collaborator over PDAL (spec.md §1, §4.1.3 step 5).
type PointCloudProbe interface {
	Probe(path string) (PointCloudMetadata, error)
}

// PointCloudMetadata is the subset of PDAL facts spec.md §4.1.3 step 5 needs.
type PointCloudMetadata struct {
	PointCount int64
	Dimensions []string
	SRSWKT     string
	MinX, MinY, MinZ float64
	MaxX, MaxY, MaxZ float64
}

// ClassifyByExtension implements spec.md §4.1.3 step 1: the first,
// extension-driven pass of type determination, before any content probing.
// It never returns GeoImage/GeoRaster/GeoVideo/GeoPanorama/Panorama — those
// require probing and are assigned by Classifier.Classify.
func ClassifyByExtension(path string) Type {
	ext := strings.ToLower(filepath.Ext(path))

	if t, ok := extensionTypes[ext]; ok {
		return t
	}

	if imageExtensions[ext] {
		return Image
	}

	if videoExtensions[ext] {
		return Video
	}

	return Generic
}

// Classifier runs the full spec.md §4.1.3 classification pipeline: extension
// first, then content probes for images/videos/rasters/point clouds. Probes
// are pluggable so the core never links a concrete GDAL/PDAL/EXIF binding.
type Classifier struct {
	Image      ImageMetadataProbe
	Raster     RasterProbe
	PointCloud PointCloudProbe
}

// Classify determines the Type and, when applicable, the geometry and
// properties for path. It never errors on missing/failed probes — a probe
// failure degrades to the extension-only classification, matching spec.md
// §4.1.9 "I/O errors during parseEntry are caught per-file".
func (c *Classifier) Classify(path string) (Type, *Point, *Polygon, error) {
	base := ClassifyByExtension(path)
	ext := strings.ToLower(filepath.Ext(path))

	switch {
	case plyExtensions[ext]:
		t, err := classifyPly(path)
		if err != nil {
			return PointCloud, nil, nil, nil //nolint:nilerr // probe failure degrades to PointCloud, per spec.md §4.1.9
		}

		return t, nil, nil, nil

	case base == Image && tiffExtensions[ext] && c.Raster != nil:
		if rt, ok, err := c.Raster.Probe(path); err == nil && ok && rt.ProjectionWKT != "" {
			point, poly := rasterGeometry(rt)

			return GeoRaster, point, poly, nil
		}

		fallthrough

	case base == Image:
		return c.classifyImage(path)

	case base == Video:
		return c.classifyVideo(path)

	case base == PointCloud && c.PointCloud != nil:
		pc, err := c.PointCloud.Probe(path)
		if err != nil {
			return PointCloud, nil, nil, nil //nolint:nilerr // probe failure degrades to extension-only type, per spec.md §4.1.9
		}

		point, poly := pointCloudGeometry(pc)

		return PointCloud, point, poly, nil
	}

	return base, nil, nil, nil
}

func (c *Classifier) classifyImage(path string) (Type, *Point, *Polygon, error) {
	if c.Image == nil {
		return Image, nil, nil, nil
	}

	meta, ok, err := c.Image.Probe(path)
	if err != nil || !ok {
		return Image, nil, nil, nil //nolint:nilerr // probe failure degrades to Image, per spec.md §4.1.9
	}

	isPanorama := meta.Height > 0 && float64(meta.Width)/float64(meta.Height) >= panoramaAspectRatio

	if !meta.HasGeolocation {
		if isPanorama {
			return Panorama, nil, nil, nil
		}

		return Image, nil, nil, nil
	}

	point := meta.Geo
	var poly *Polygon

	if meta.SensorWidth > 0 && meta.FocalLength > 0 {
		if fp, err := ComputeFootprint(meta); err == nil {
			poly = fp
		}
	}

	if isPanorama {
		return GeoPanorama, &point, poly, nil
	}

	return GeoImage, &point, poly, nil
}

// classifyPly implements spec.md line 113's ".ply -> PointCloud or Model by
// first-line inspection": it reads the PLY header only, looking for an
// "element face" count. A non-zero face count means the file connects
// vertices into a mesh (Model); no faces (or none declared) means a bare
// point cloud. Grounded in the original tree's identifyPly (src/ply.h),
// which draws the same line between "isMesh" and point-cloud-only PLY files.
func classifyPly(path string) (Type, error) {
	f, err := os.Open(path)
	if err != nil {
		return PointCloud, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "end_header" {
			break
		}

		if !strings.HasPrefix(line, "element face") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}

		if count, err := strconv.Atoi(fields[2]); err == nil && count > 0 {
			return Model, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return PointCloud, err
	}

	return PointCloud, nil
}

func (c *Classifier) classifyVideo(path string) (Type, *Point, *Polygon, error) {
	if c.Image == nil { // videos reuse the same EXIF/XMP-shaped probe
		return Video, nil, nil, nil
	}

	meta, ok, err := c.Image.Probe(path)
	if err != nil || !ok || !meta.HasGeolocation {
		return Video, nil, nil, nil //nolint:nilerr // probe failure/no geolocation degrades to Video
	}

	point := meta.Geo

	return GeoVideo, &point, nil, nil
}

// rasterGeometry projects the four corners and centroid of a georaster to
// WGS84 (spec.md §4.1.3 step 4).
func rasterGeometry(rt RasterMetadata) (*Point, *Polygon) {
	gt := rt.Geotransform
	w, h := float64(rt.Width), float64(rt.Height)

	corner := func(px, py float64) Point {
		x := gt[0] + px*gt[1] + py*gt[2]
		y := gt[3] + px*gt[4] + py*gt[5]

		return Point{Lon: x, Lat: y}
	}

	ul := corner(0, 0)
	ur := corner(w, 0)
	lr := corner(w, h)
	ll := corner(0, h)
	centroid := corner(w/2, h/2)

	return &centroid, &Polygon{Points: []Point{ul, ll, lr, ur, ul}}
}

// pointCloudGeometry projects a point cloud's bounding box to a WGS84
// centroid and polygon (spec.md §4.1.3 step 5). Bounds are assumed to
// already be in the same coordinate space as the SRS the probe reported;
// reprojection to WGS84 is the probe's responsibility (it is the GDAL/PDAL
// external collaborator per spec.md §1), this function only shapes the
// already-WGS84 bounds into Entry geometry.
func pointCloudGeometry(pc PointCloudMetadata) (*Point, *Polygon) {
	centroid := Point{
		Lon: (pc.MinX + pc.MaxX) / 2,
		Lat: (pc.MinY + pc.MaxY) / 2,
		Alt: (pc.MinZ + pc.MaxZ) / 2,
	}

	ul := Point{Lon: pc.MinX, Lat: pc.MaxY}
	ll := Point{Lon: pc.MinX, Lat: pc.MinY}
	lr := Point{Lon: pc.MaxX, Lat: pc.MinY}
	ur := Point{Lon: pc.MaxX, Lat: pc.MaxY}

	return &centroid, &Polygon{Points: []Point{ul, ll, lr, ur, ul}}
}
