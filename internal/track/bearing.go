package track

import "math"

// BearingTable maps a planar math angle in degrees (-180..180, counter-clockwise
// from east) to a compass bearing in degrees (clockwise from north). Each quadrant
// is a descending linear ramp: SW 270→180, SE 180→90, NE 90→0, NW 360→270.
type BearingTable struct {
	step     float64
	angles   []float64
	bearings []float64
}

// NewBearingTable samples the quadrant mapping every step degrees. step must divide 90.
func NewBearingTable(step float64) *BearingTable {
	q := int(math.Round(90 / step))
	n := 4*q + 1
	t := &BearingTable{
		step:     step,
		angles:   make([]float64, n),
		bearings: make([]float64, n),
	}
	for i := range t.angles {
		t.angles[i] = -180 + float64(i)*step
	}
	starts := [4]float64{270, 180, 90, 360}
	for quad, start := range starts {
		for j := 0; j < q; j++ {
			t.bearings[quad*q+j] = start - float64(j)*step
		}
	}
	t.bearings[n-1] = 270
	// north maps to 0, not 360
	t.bearings[3*q] = 0
	return t
}

// Lookup returns the bearing for angle, in [0, 360). Outside the table the edge
// segments are extrapolated. Interpolation runs the short way across the 0/360 seam.
func (t *BearingTable) Lookup(angle float64) float64 {
	last := len(t.angles) - 1
	pos := (angle - t.angles[0]) / t.step
	i := int(math.Floor(pos + 1e-9))
	if i < 0 {
		i = 0
	}
	if i > last-1 {
		i = last - 1
	}
	frac := pos - float64(i)
	if math.Abs(frac) < 1e-9 {
		frac = 0
	}
	b0, b1 := t.bearings[i], t.bearings[i+1]
	switch {
	case b1-b0 > 180:
		b1 -= 360
	case b0-b1 > 180:
		b1 += 360
	}
	v := b0 + (b1-b0)*frac
	v = math.Mod(v, 360)
	if v < 0 {
		v += 360
	}
	return v
}

// MathAngle is the planar angle in degrees of the step from (lat1,lon1) to (lat2,lon2).
// The tiny longitude bias keeps a zero step well defined.
func MathAngle(lat1, lon1, lat2, lon2 float64) float64 {
	dy := lat2*math.Pi/180 - lat1*math.Pi/180
	dx := lon2*math.Pi/180 - lon1*math.Pi/180 + 1e-20
	return math.Atan2(dy, dx) * 180 / math.Pi
}

// Bearing is the compass bearing of the step from (lat1,lon1) to (lat2,lon2).
func (t *BearingTable) Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	return t.Lookup(MathAngle(lat1, lon1, lat2, lon2))
}
