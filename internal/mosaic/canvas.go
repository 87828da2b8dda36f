package mosaic

import (
	"image"
	"image/draw"
)

// Canvas is a mosaic under construction. Strip positions are kept in the
// coordinate frame of the first strip; the canvas grows on whichever side a new
// strip overhangs, and the newest strip is drawn over what lies beneath it.
type Canvas struct {
	img           *image.NRGBA
	curX, curY    int // last placed strip
	left, top     int // canvas origin
	right, bottom int
}

// NewCanvas starts a canvas from the first strip of a window.
func NewCanvas(first *image.NRGBA) *Canvas {
	b := first.Bounds()
	img := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Bounds(), first, b.Min, draw.Src)
	return &Canvas{img: img, right: b.Dx(), bottom: b.Dy()}
}

// Place draws strip offset by (dx, dy) from the previously placed strip.
func (c *Canvas) Place(strip *image.NRGBA, dx, dy int) {
	sb := strip.Bounds()
	x, y := c.curX+dx, c.curY+dy

	left, top := min(c.left, x), min(c.top, y)
	right, bottom := max(c.right, x+sb.Dx()), max(c.bottom, y+sb.Dy())
	if left != c.left || top != c.top || right != c.right || bottom != c.bottom {
		grown := image.NewNRGBA(image.Rect(0, 0, right-left, bottom-top))
		at := image.Pt(c.left-left, c.top-top)
		draw.Draw(grown, c.img.Bounds().Add(at), c.img, image.Point{}, draw.Src)
		c.img = grown
		c.left, c.top, c.right, c.bottom = left, top, right, bottom
	}

	dst := image.Rect(x-c.left, y-c.top, x-c.left+sb.Dx(), y-c.top+sb.Dy())
	draw.Draw(c.img, dst, strip, sb.Min, draw.Src)
	c.curX, c.curY = x, y
}

// Image returns the current canvas. Unfilled area is transparent black.
func (c *Canvas) Image() *image.NRGBA { return c.img }

// Origin reports where the first strip sits on the canvas.
func (c *Canvas) Origin() image.Point { return image.Pt(-c.left, -c.top) }
