package tiling

import "math"

// webMercatorExtent is the half-width of the EPSG:3857 coordinate space in
// meters, i.e. the projection of ±180° longitude.
const webMercatorExtent = 20037508.342789244

// MercatorBounds is an axis-aligned bounding box in EPSG:3857 meters.
type MercatorBounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// TileBounds computes the EPSG:3857 bounds of an XYZ tile, per spec.md
// §4.4.2 step 2 ("compute mercator bounds"). Tile (0,0,0) covers the whole
// world; y increases southward, matching the XYZ/Google tiling scheme.
func TileBounds(z, x, y int) MercatorBounds {
	n := math.Exp2(float64(z))
	tileSize := 2 * webMercatorExtent / n

	minX := -webMercatorExtent + float64(x)*tileSize
	maxX := minX + tileSize

	maxY := webMercatorExtent - float64(y)*tileSize
	minY := maxY - tileSize

	return MercatorBounds{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// LonLatToMercator projects a WGS84 coordinate (degrees) into EPSG:3857
// meters, used to place EPT point-cloud samples and GCP corners onto the
// tile's pixel grid.
func LonLatToMercator(lon, lat float64) (x, y float64) {
	x = lon * webMercatorExtent / 180

	y = math.Log(math.Tan((90+lat)*math.Pi/360)) / (math.Pi / 180)
	y = y * webMercatorExtent / 180

	return x, y
}
