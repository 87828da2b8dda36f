package mosaic

import "gonum.org/v1/gonum/dsp/fourier"

// fft2 runs 2-D complex transforms of a fixed size as row transforms followed by
// column transforms. Inverse transforms are not normalized.
type fft2 struct {
	w, h     int
	row, col *fourier.CmplxFFT
	rin      []complex128
	rout     []complex128
	cin      []complex128
	cout     []complex128
}

func newFFT2(w, h int) *fft2 {
	return &fft2{
		w:    w,
		h:    h,
		row:  fourier.NewCmplxFFT(w),
		col:  fourier.NewCmplxFFT(h),
		rin:  make([]complex128, w),
		rout: make([]complex128, w),
		cin:  make([]complex128, h),
		cout: make([]complex128, h),
	}
}

func (f *fft2) forwardGrid(g Grid) []complex128 {
	data := make([]complex128, f.w*f.h)
	for i, v := range g.values {
		data[i] = complex(v, 0)
	}
	f.transform(data, false)
	return data
}

// transform replaces data (row-major, h rows of w) with its 2-D DFT, or the
// unnormalized inverse when inverse is set.
func (f *fft2) transform(data []complex128, inverse bool) {
	for y := 0; y < f.h; y++ {
		copy(f.rin, data[y*f.w:(y+1)*f.w])
		if inverse {
			f.row.Sequence(f.rout, f.rin)
		} else {
			f.row.Coefficients(f.rout, f.rin)
		}
		copy(data[y*f.w:], f.rout)
	}
	for x := 0; x < f.w; x++ {
		for y := 0; y < f.h; y++ {
			f.cin[y] = data[y*f.w+x]
		}
		if inverse {
			f.col.Sequence(f.cout, f.cin)
		} else {
			f.col.Coefficients(f.cout, f.cin)
		}
		for y := 0; y < f.h; y++ {
			data[y*f.w+x] = f.cout[y]
		}
	}
}
