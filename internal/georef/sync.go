package georef

import (
	"fmt"
	"math"

	"reefstitch/internal/config"
	"reefstitch/internal/track"
)

// SyncClock converts the local clock reading at which video and GPS were
// synchronized to the GPS clock, given the recording's UTC offset and the
// offset the GPS clock is kept in.
func SyncClock(sync string, utcOffset, referenceOffset int) (float64, error) {
	sec, err := track.ParseClock(sync)
	if err != nil {
		return 0, config.Errorf("sync_time", "%v", err)
	}
	return track.WrapDay(sec + float64(utcOffset-referenceOffset)*3600), nil
}

// Synchronize drops every fix earlier than syncGPS and reports how many went.
func Synchronize(pts []track.Point, syncGPS float64) ([]track.Point, int) {
	kept := make([]track.Point, 0, len(pts))
	for _, p := range pts {
		if p.Time >= syncGPS {
			kept = append(kept, p)
		}
	}
	return kept, len(pts) - len(kept)
}

// Series is a track resampled every second from its first fix.
type Series struct {
	Start    float64
	Lon      []float64
	Lat      []float64
	Heading  []float64
	Depth    []float64
	HasDepth bool
}

// Len is the number of one-second samples.
func (s *Series) Len() int { return len(s.Lon) }

// Resample interpolates pts at one-second spacing from the first to the last
// fix, extrapolating linearly where the grid overruns the data.
func Resample(pts []track.Point, hasDepth bool) (*Series, error) {
	if len(pts) == 0 {
		return nil, fmt.Errorf("resample: no points")
	}
	n := len(pts)
	xs := make([]float64, n)
	lon := make([]float64, n)
	lat := make([]float64, n)
	hdg := make([]float64, n)
	dep := make([]float64, n)
	for i, p := range pts {
		xs[i], lon[i], lat[i], hdg[i], dep[i] = p.Time, p.Lon, p.Lat, p.Heading, p.Depth
	}

	t0 := xs[0]
	samples := int(math.Floor(xs[n-1]-t0)) + 1
	s := &Series{Start: t0, HasDepth: hasDepth}
	cols := []struct {
		ys  []float64
		out *[]float64
	}{{lon, &s.Lon}, {lat, &s.Lat}, {hdg, &s.Heading}}
	if hasDepth {
		cols = append(cols, struct {
			ys  []float64
			out *[]float64
		}{dep, &s.Depth})
	}
	for _, c := range cols {
		ip, err := track.NewInterpolant(xs, c.ys, true)
		if err != nil {
			return nil, fmt.Errorf("resample: %w", err)
		}
		out := make([]float64, samples)
		for i := range out {
			out[i] = ip.At(t0 + float64(i))
		}
		*c.out = out
	}
	return s, nil
}
