// Package entry implements DroneDB's typed record for one filesystem object
// (spec.md §3.1, component C4): the Type tag, geometry value types, and the
// classification/footprint logic that turns a raw file into an Entry.
package entry

import "encoding/json"

// Type is the closed set of entry classifications spec.md §3.1 defines.
type Type int

// Entry types, in the order spec.md §3.1 lists them.
const (
	Undefined Type = iota
	Directory
	Generic
	GeoImage
	GeoRaster
	PointCloud
	Image
	DroneDBType // nested dataset; named DroneDBType to avoid clashing with the root ddb package name
	Markdown
	Video
	GeoVideo
	Panorama
	GeoPanorama
	Model
	Vector
)

// String renders the type the way it would be serialized to JSON/CLI output.
func (t Type) String() string {
	switch t {
	case Directory:
		return "Directory"
	case Generic:
		return "Generic"
	case GeoImage:
		return "GeoImage"
	case GeoRaster:
		return "GeoRaster"
	case PointCloud:
		return "PointCloud"
	case Image:
		return "Image"
	case DroneDBType:
		return "DroneDB"
	case Markdown:
		return "Markdown"
	case Video:
		return "Video"
	case GeoVideo:
		return "GeoVideo"
	case Panorama:
		return "Panorama"
	case GeoPanorama:
		return "GeoPanorama"
	case Model:
		return "Model"
	case Vector:
		return "Vector"
	default:
		return "Undefined"
	}
}

// IsGeoreferenced reports whether entries of this type carry a point and/or
// polygon geometry in WGS84 (spec.md §3.1 "Geometries, when present").
func (t Type) IsGeoreferenced() bool {
	switch t {
	case GeoImage, GeoRaster, PointCloud, GeoVideo, GeoPanorama:
		return true
	default:
		return false
	}
}

// Point is a 3D WGS84 point: longitude, latitude, altitude (spec.md §3.1
// "axis order longitude, latitude, altitude").
type Point struct {
	Lon float64
	Lat float64
	Alt float64
}

// Polygon is an ordered ring of WGS84 points. By convention the first and
// last point are identical (a closed ring), matching spec.md §4.1.4's
// "(ul, ll, lr, ur, ul)" footprint shape.
type Polygon struct {
	Points []Point
}

// Entry is DroneDB's record for one filesystem object (spec.md §3.1).
type Entry struct {
	Path        string
	Hash        string
	Type        Type
	Properties  json.RawMessage
	Mtime       int64
	Size        uint64
	PointGeom   *Point
	PolygonGeom *Polygon
	Meta        json.RawMessage // materialized from the metadata manager when queried, never stored on this struct directly
}

// Depth computes spec.md §3.1's "depth(path) = count('/', path)" invariant.
// It is never stored divergently from this computation.
func Depth(path string) int {
	if path == "" {
		return 0
	}

	n := 0
	for _, r := range path {
		if r == '/' {
			n++
		}
	}

	return n
}
