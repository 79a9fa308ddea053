package entry

import "math"

// WGS84 ellipsoid constants, used by the forward/inverse UTM projection
// spec.md §4.1.4 calls for ("project back to WGS84 via the UTM zone of
// (g.lat, g.lon)").
const (
	wgs84A = 6378137.0         // semi-major axis, meters
	wgs84F = 1 / 298.257223563 // flattening
	k0     = 0.9996            // UTM scale factor
)

// utmZone returns the UTM zone number for a given longitude in degrees.
func utmZone(lonDeg float64) int {
	zone := int(math.Floor((lonDeg+180)/6)) + 1
	if zone < 1 {
		zone = 1
	}

	if zone > 60 {
		zone = 60
	}

	return zone
}

// latLonToUTM converts a WGS84 lat/lon (degrees) to UTM easting/northing
// (meters) in the zone containing lonDeg, using the standard closed-form
// forward transverse Mercator series.
func latLonToUTM(latDeg, lonDeg float64, zone int) (easting, northing float64) {
	lat := latDeg * math.Pi / 180
	lon0 := float64(zone*6-183) * math.Pi / 180
	lon := lonDeg*math.Pi/180 - lon0

	e2 := wgs84F * (2 - wgs84F)
	ePrime2 := e2 / (1 - e2)

	n := wgs84A / math.Sqrt(1-e2*math.Sin(lat)*math.Sin(lat))
	t := math.Tan(lat) * math.Tan(lat)
	c := ePrime2 * math.Cos(lat) * math.Cos(lat)
	a := math.Cos(lat) * lon

	m := wgs84A * meridianSeries(e2, lat)

	easting = k0*n*(a+(1-t+c)*a*a*a/6+
		(5-18*t+t*t+72*c-58*ePrime2)*a*a*a*a*a/120) + 500000

	northing = k0 * (m + n*math.Tan(lat)*(a*a/2+
		(5-t+9*c+4*c*c)*a*a*a*a/24+
		(61-58*t+t*t+600*c-330*ePrime2)*a*a*a*a*a*a/720))

	if latDeg < 0 {
		northing += 10000000
	}

	return easting, northing
}

// meridianSeries computes the true meridional arc length divided by the
// semi-major axis, i.e. M/a, for latitude lat (radians).
func meridianSeries(e2, lat float64) float64 {
	e4 := e2 * e2
	e6 := e4 * e2

	return (1 - e2/4 - 3*e4/64 - 5*e6/256) * lat -
		(3*e2/8 + 3*e4/32 + 45*e6/1024) * math.Sin(2*lat) +
		(15*e4/256 + 45*e6/1024) * math.Sin(4*lat) -
		(35 * e6 / 3072) * math.Sin(6*lat)
}

// utmToLatLon converts UTM easting/northing (meters) in the given zone and
// hemisphere back to WGS84 lat/lon (degrees), using the standard closed-form
// inverse transverse Mercator series.
func utmToLatLon(easting, northing float64, zone int, southernHemisphere bool) (latDeg, lonDeg float64) {
	e2 := wgs84F * (2 - wgs84F)
	ePrime2 := e2 / (1 - e2)

	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))

	x := easting - 500000
	y := northing

	if southernHemisphere {
		y -= 10000000
	}

	m := y / k0
	mu := m / (wgs84A * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))

	phi1 := mu + (3*e1/2-27*e1*e1*e1/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*e1*e1*e1*e1/32)*math.Sin(4*mu) +
		(151*e1*e1*e1/96)*math.Sin(6*mu)

	n1 := wgs84A / math.Sqrt(1-e2*math.Sin(phi1)*math.Sin(phi1))
	t1 := math.Tan(phi1) * math.Tan(phi1)
	c1 := ePrime2 * math.Cos(phi1) * math.Cos(phi1)
	r1 := wgs84A * (1 - e2) / math.Pow(1-e2*math.Sin(phi1)*math.Sin(phi1), 1.5)
	d := x / (n1 * k0)

	lat := phi1 - (n1*math.Tan(phi1)/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ePrime2)*d*d*d*d/24+
		(61+90*t1+298*c1+45*t1*t1-252*ePrime2-3*c1*c1)*d*d*d*d*d*d/720)

	lon0 := float64(zone*6-183) * math.Pi / 180
	lon := lon0 + (d-(1+2*t1+c1)*d*d*d/6+
		(5-2*c1+28*t1-3*c1*c1+8*ePrime2+24*t1*t1)*d*d*d*d*d/120)/math.Cos(phi1)

	return lat * 180 / math.Pi, lon * 180 / math.Pi
}

// offsetToWGS84 translates a local-tangent-plane offset (meters east,
// meters north) from origin by re-projecting through the UTM zone
// containing origin, per spec.md §4.1.4.
func offsetToWGS84(origin Point, eastMeters, northMeters float64) Point {
	zone := utmZone(origin.Lon)
	e, n := latLonToUTM(origin.Lat, origin.Lon, zone)

	lat, lon := utmToLatLon(e+eastMeters, n+northMeters, zone, origin.Lat < 0)

	return Point{Lon: lon, Lat: lat}
}
