package mosaic

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"
)

// Estimators.
const (
	EstimatorPhase = "phase"
	EstimatorCross = "cross"
)

// Registration is the estimated translation of a candidate strip against the
// reference strip. DX/DY place the candidate relative to the reference; Distance is
// the length of that offset.
type Registration struct {
	DX, DY       int
	PeakX, PeakY int
	Distance     float64
	Estimator    string
}

// Matcher estimates the translation between two equally sized strips.
type Matcher interface {
	Match(ref, cand Grid) (Registration, error)
}

// PhaseMatcher registers strips by phase correlation and falls back to plain
// cross-correlation when the phase peak lies farther than UpperThreshold pixels
// from the zero-shift position.
type PhaseMatcher struct {
	UpperThreshold float64

	plan *fft2
}

// NewPhaseMatcher returns a matcher trusting phase peaks within upper pixels.
func NewPhaseMatcher(upper float64) *PhaseMatcher {
	return &PhaseMatcher{UpperThreshold: upper}
}

func (m *PhaseMatcher) Match(ref, cand Grid) (Registration, error) {
	w, h := ref.Dx(), ref.Dy()
	if cand.Dx() != w || cand.Dy() != h {
		return Registration{}, fmt.Errorf("strip sizes differ: %dx%d vs %dx%d", w, h, cand.Dx(), cand.Dy())
	}
	if w == 0 || h == 0 {
		return Registration{}, fmt.Errorf("empty strip")
	}
	if m.plan == nil || m.plan.w != w || m.plan.h != h {
		m.plan = newFFT2(w, h)
	}

	fc := m.plan.forwardGrid(cand)
	fr := m.plan.forwardGrid(ref)

	cc := make([]complex128, len(fc))
	pc := make([]complex128, len(fc))
	for i := range fc {
		v := cmplx.Conj(fc[i]) * fr[i]
		cc[i] = v
		if a := cmplx.Abs(v); a > 0 {
			pc[i] = v / complex(a, 0)
		}
	}
	m.plan.transform(cc, true)
	m.plan.transform(pc, true)

	xc, yc := w/2, h/2
	reg := m.peak(pc, w, h)
	reg.Estimator = EstimatorPhase
	if reg.Distance > m.UpperThreshold {
		reg = m.peak(cc, w, h)
		reg.Estimator = EstimatorCross
	}
	reg.DX, reg.DY = reg.PeakX-xc, reg.PeakY-yc
	return reg, nil
}

// peak finds the magnitude maximum of a correlation surface and reports it in
// centre-shifted coordinates, where the zero shift sits at (w/2, h/2).
func (m *PhaseMatcher) peak(surface []complex128, w, h int) Registration {
	mag := make([]float64, len(surface))
	for i, v := range surface {
		mag[i] = cmplx.Abs(v)
	}
	i := floats.MaxIdx(mag)
	px := (i%w + w/2) % w
	py := (i/w + h/2) % h
	return Registration{
		PeakX:    px,
		PeakY:    py,
		Distance: math.Hypot(float64(px-w/2), float64(py-h/2)),
	}
}
