package track

import (
	"math"
	"testing"
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestBearingTableQuadrantBoundaries(t *testing.T) {
	tbl := NewBearingTable(0.01)
	cases := map[float64]float64{
		-180: 270,
		-90:  180,
		0:    90,
		90:   0,
		180:  270,
		-135: 225,
		-45:  135,
		45:   45,
		135:  315,
	}
	for angle, want := range cases {
		if got := tbl.Lookup(angle); !near(got, want, 1e-9) {
			t.Fatalf("Lookup(%v) = %v, want %v", angle, got, want)
		}
	}
}

func TestBearingTableMonotoneWithinQuadrants(t *testing.T) {
	tbl := NewBearingTable(0.01)
	segments := [][2]float64{{-180, -90}, {-90, 0}, {0, 90}, {90.5, 180}}
	for _, seg := range segments {
		prev := tbl.Lookup(seg[0])
		for a := seg[0] + 0.37; a <= seg[1]; a += 0.37 {
			got := tbl.Lookup(a)
			if got > prev+1e-9 {
				t.Fatalf("not descending in [%v,%v]: %v -> %v at %v", seg[0], seg[1], prev, got, a)
			}
			if got < 0 || got >= 360 {
				t.Fatalf("bearing %v out of range at %v", got, a)
			}
			prev = got
		}
	}
}

func TestBearingTableContinuousAcrossNorth(t *testing.T) {
	tbl := NewBearingTable(0.01)
	// the 0/360 seam sits between 90.00 and 90.01
	got := tbl.Lookup(90.005)
	if !near(got, 359.995, 1e-6) {
		t.Fatalf("Lookup(90.005) = %v", got)
	}
}

func TestBearingCardinalDirections(t *testing.T) {
	tbl := NewBearingTable(0.01)
	cases := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{"east", 10, 120, 10, 120.001, 90},
		{"north", 10, 120, 10.001, 120, 0},
		{"west", 10, 120, 10, 119.999, 270},
		{"south", 10, 120, 9.999, 120, 180},
	}
	for _, tc := range cases {
		if got := tbl.Bearing(tc.lat1, tc.lon1, tc.lat2, tc.lon2); !near(got, tc.want, 1e-6) {
			t.Fatalf("%s: bearing = %v, want %v", tc.name, got, tc.want)
		}
	}
	// a due-east step is planar angle zero
	if a := MathAngle(10, 120, 10, 120.001); !near(a, 0, 1e-9) {
		t.Fatalf("MathAngle east = %v", a)
	}
}
