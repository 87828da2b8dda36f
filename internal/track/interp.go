package track

import (
	"fmt"

	"gonum.org/v1/gonum/interp"
)

// Interpolant is a piecewise-linear function of strictly increasing xs.
// Inside the sample range it interpolates; outside it either holds the edge value
// or continues the edge segment, depending on extrapolate.
type Interpolant struct {
	xs, ys      []float64
	pl          interp.PiecewiseLinear
	extrapolate bool
}

// NewInterpolant fits xs/ys. A single sample yields a constant.
func NewInterpolant(xs, ys []float64, extrapolate bool) (*Interpolant, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("interpolant: %d xs vs %d ys", len(xs), len(ys))
	}
	if len(xs) == 0 {
		return nil, fmt.Errorf("interpolant: no samples")
	}
	ip := &Interpolant{xs: xs, ys: ys, extrapolate: extrapolate}
	if len(xs) > 1 {
		if err := ip.pl.Fit(xs, ys); err != nil {
			return nil, fmt.Errorf("interpolant: %w", err)
		}
	}
	return ip, nil
}

// At evaluates the interpolant.
func (ip *Interpolant) At(x float64) float64 {
	n := len(ip.xs)
	if n == 1 {
		return ip.ys[0]
	}
	if ip.extrapolate {
		if x < ip.xs[0] {
			return ip.ys[0] + slope(ip.xs[0], ip.ys[0], ip.xs[1], ip.ys[1])*(x-ip.xs[0])
		}
		if x > ip.xs[n-1] {
			return ip.ys[n-1] + slope(ip.xs[n-2], ip.ys[n-2], ip.xs[n-1], ip.ys[n-1])*(x-ip.xs[n-1])
		}
	}
	return ip.pl.Predict(x)
}

func slope(x0, y0, x1, y1 float64) float64 {
	return (y1 - y0) / (x1 - x0)
}
