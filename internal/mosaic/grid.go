package mosaic

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Grid is a row-major grid of floats.
type Grid struct {
	stride int
	values []float64
}

func NewGrid(w, h int) Grid {
	return Grid{stride: w, values: make([]float64, w*h)}
}

func (g *Grid) Set(x, y int, v float64) { g.values[g.stride*y+x] = v }
func (g *Grid) Get(x, y int) float64    { return g.values[g.stride*y+x] }
func (g *Grid) Dx() int                 { return g.stride }
func (g *Grid) Dy() int {
	if g.stride == 0 {
		return 0
	}
	return len(g.values) / g.stride
}

// ChannelGrid copies one colour channel (0=R 1=G 2=B) of img into a Grid.
func ChannelGrid(img *image.NRGBA, channel int) Grid {
	b := img.Bounds()
	g := NewGrid(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			g.Set(x, y, float64(row[x*4+channel]))
		}
	}
	return g
}

// StripHalfHeight is the half height of the registration strip for a frame of
// resolution height resH: floor(resH*overlap/2) - 1.
func StripHalfHeight(resH int, overlap float64) int {
	return int(float64(resH)*overlap/2) - 1
}

// CutStrip returns rows yc-half..yc+half (inclusive) of img, yc being the middle row.
func CutStrip(img image.Image, half int) (*image.NRGBA, error) {
	b := img.Bounds()
	yc := b.Dy() / 2
	if half < 0 || yc-half < 0 || yc+half >= b.Dy() {
		return nil, fmt.Errorf("strip half height %d does not fit a %dx%d frame", half, b.Dx(), b.Dy())
	}
	r := image.Rect(b.Min.X, b.Min.Y+yc-half, b.Max.X, b.Min.Y+yc+half+1)
	return imaging.Crop(img, r), nil
}
