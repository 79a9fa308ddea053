package entry

import (
	"fmt"
	"math"
)

// minPitchDeg is the cap spec.md §4.1.4 applies: "cap pitch at -30° (below
// which nadir is assumed)". Pitch is measured from the horizon, negative
// meaning pointing down, so "below -30°" in the spec's camera convention
// means steeper than -30° (i.e. closer to straight down).
const minPitchDeg = -30.0

// ComputeFootprint computes the ground polygon covered by a GeoImage, per
// spec.md §4.1.4. meta must carry SensorWidth/FocalLength/Width/Height/
// RelativeAlt/Geo/YawDeg/PitchDeg (all validated non-zero by the caller).
func ComputeFootprint(meta ImageMetadata) (*Polygon, error) {
	if meta.FocalLength <= 0 || meta.SensorWidth <= 0 || meta.Width <= 0 || meta.Height <= 0 {
		return nil, fmt.Errorf("entry: insufficient metadata to compute footprint")
	}

	alt := meta.RelativeAlt
	if alt <= 0 {
		return nil, fmt.Errorf("entry: non-positive relative altitude")
	}

	sensorHeight := meta.SensorWidth * float64(meta.Height) / float64(meta.Width)

	xView := 2 * math.Atan(meta.SensorWidth/(2*meta.FocalLength))
	yView := 2 * math.Atan(sensorHeight/(2*meta.FocalLength))

	pitch := meta.PitchDeg
	if pitch < minPitchDeg {
		pitch = -90 // nadir
	}

	pitchRad := pitch * math.Pi / 180

	bottom := alt * math.Tan(math.Pi/2+pitchRad-yView/2)
	top := alt * math.Tan(math.Pi/2+pitchRad+yView/2)
	left := alt * math.Tan(math.Pi/2+pitchRad-xView/2)
	right := alt * math.Tan(math.Pi/2+pitchRad+xView/2)

	// Local rectangle corners in camera-relative east/north meters, before
	// yaw rotation (spec.md §4.1.4 "rotate the local rectangle … by -yaw").
	type corner struct{ east, north float64 }
	rect := []corner{
		{left, top},    // ul
		{left, bottom}, // ll
		{right, bottom}, // lr
		{right, top},   // ur
	}

	yawRad := -meta.YawDeg * math.Pi / 180
	cosY, sinY := math.Cos(yawRad), math.Sin(yawRad)

	groundHeight := meta.Geo.Alt - alt

	points := make([]Point, 0, 5)
	for _, c := range rect {
		rotEast := c.east*cosY - c.north*sinY
		rotNorth := c.east*sinY + c.north*cosY

		p := offsetToWGS84(meta.Geo, rotEast, rotNorth)
		p.Alt = groundHeight

		points = append(points, p)
	}

	points = append(points, points[0]) // close the ring: (ul, ll, lr, ur, ul)

	return &Polygon{Points: points}, nil
}
