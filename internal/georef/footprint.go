package georef

import "math"

// LonLat is a geographic position in degrees.
type LonLat struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Branches of the corner construction.
const (
	BranchNorth = "north" // mid heading within [270,360] or [0,90]
	BranchSouth = "south"
)

// Footprint is the ground quadrilateral of a mosaic.
type Footprint struct {
	Quad   [4]LonLat
	Branch string
}

// NorthHalf reports whether heading falls in [270,360] or [0,90].
func NorthHalf(heading float64) bool {
	return (heading >= 270 && heading <= 360) || (heading >= 0 && heading <= 90)
}

// offset moves p by dx metres east and dy metres north on a flat earth of radius r.
func offset(p LonLat, dx, dy, r float64) LonLat {
	const rad2deg = 180 / math.Pi
	return LonLat{
		Lon: p.Lon + dx/r*rad2deg/math.Cos(p.Lat*math.Pi/180),
		Lat: p.Lat + dy/r*rad2deg,
	}
}

// Corners builds the footprint of a swath width metres wide from start to end.
// The half-width offsets at each end use that end's heading; the branch and the
// emitted corner order depend on the mid-window heading. Within each pair the
// western corner comes first.
func Corners(start, end LonLat, headingStart, headingEnd, headingMid, width, earthRadius float64) Footprint {
	sign := 1.0
	branch := BranchSouth
	if NorthHalf(headingMid) {
		sign = -1
		branch = BranchNorth
	}
	half := sign * 0.5 * width
	dxs := half * math.Cos(headingStart*math.Pi/180)
	dys := half * math.Sin(headingStart*math.Pi/180)
	dxe := half * math.Cos(headingEnd*math.Pi/180)
	dye := half * math.Sin(headingEnd*math.Pi/180)

	tr := offset(start, dxs, dys, earthRadius)
	tl := offset(start, -dxs, -dys, earthRadius)
	bl := offset(end, -dxe, -dye, earthRadius)
	br := offset(end, dxe, dye, earthRadius)

	if br.Lon < bl.Lon {
		bl.Lon, br.Lon = br.Lon, bl.Lon
	}
	if tr.Lon < tl.Lon {
		tl.Lon, tr.Lon = tr.Lon, tl.Lon
	}

	if branch == BranchNorth {
		return Footprint{Quad: [4]LonLat{tl, tr, br, bl}, Branch: branch}
	}
	return Footprint{Quad: [4]LonLat{tr, tl, bl, br}, Branch: branch}
}
