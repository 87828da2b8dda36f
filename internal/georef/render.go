package georef

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	titleFontSize = 14
	titleLeading  = 1.4
	pagePadding   = 12
)

// Caption holds the text printed above a rectified mosaic.
type Caption struct {
	Index     int
	Date      string
	Lat, Lon  float64
	Heading   float64
	Depth     float64
	HasDepth  bool
	ScaleBarM float64
	PxPerM    float64 // mosaic pixels per metre on the ground; 0 hides the scale bar
}

// Lines renders the caption text.
func (c Caption) Lines() []string {
	depth := "n/a"
	if c.HasDepth {
		depth = fmt.Sprintf("%.3f", c.Depth)
	}
	date := c.Date
	if date == "" {
		date = "unknown"
	}
	return []string{
		fmt.Sprintf("mosaic no. %d", c.Index),
		"date: " + date,
		fmt.Sprintf("lat.: %.8f°", c.Lat),
		fmt.Sprintf("lon.: %.8f°", c.Lon),
		fmt.Sprintf("bearing: %.2f°", c.Heading),
		"ave. depth: " + depth,
	}
}

// Rotate turns img clockwise by heading degrees and trims the transparent margin.
func Rotate(img image.Image, heading float64) *image.NRGBA {
	rot := imaging.Rotate(img, -heading, color.Transparent)
	box, ok := opaqueBounds(rot)
	if !ok {
		return rot
	}
	return imaging.Crop(rot, box)
}

func opaqueBounds(img *image.NRGBA) (image.Rectangle, bool) {
	b := img.Bounds()
	minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride:]
		for x := b.Min.X; x < b.Max.X; x++ {
			if row[(x-b.Min.X)*4+3] == 0 {
				continue
			}
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if maxX < minX {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

var (
	captionOnce sync.Once
	captionFont *truetype.Font
	captionErr  error
)

func captionFace(size float64) (font.Face, error) {
	captionOnce.Do(func() {
		captionFont, captionErr = truetype.Parse(goregular.TTF)
	})
	if captionErr != nil {
		return nil, captionErr
	}
	return truetype.NewFace(captionFont, &truetype.Options{Size: size}), nil
}

// Present composites the rotated mosaic on white under its caption and, when
// the ground scale is known, draws a scale bar in the lower left corner.
func Present(rotated image.Image, c Caption) (image.Image, error) {
	face, err := captionFace(titleFontSize)
	if err != nil {
		return nil, fmt.Errorf("load caption font: %w", err)
	}
	lines := c.Lines()
	lineH := titleFontSize * titleLeading
	header := int(math.Ceil(float64(len(lines))*lineH)) + 2*pagePadding

	rb := rotated.Bounds()
	width := rb.Dx() + 2*pagePadding
	dc := gg.NewContext(width, 1) // measuring only
	dc.SetFontFace(face)
	for _, l := range lines {
		w, _ := dc.MeasureString(l)
		width = max(width, int(math.Ceil(w))+2*pagePadding)
	}
	height := header + rb.Dy() + pagePadding

	dc = gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetFontFace(face)
	dc.SetRGB(0, 0, 0)
	for i, l := range lines {
		dc.DrawString(l, pagePadding, pagePadding+float64(i+1)*lineH)
	}
	ox := (width - rb.Dx()) / 2
	dc.DrawImage(rotated, ox, header)

	if c.HasDepth && c.PxPerM > 0 && c.ScaleBarM > 0 {
		barPx := c.ScaleBarM * c.PxPerM
		x0 := float64(ox) + 8
		y0 := float64(header+rb.Dy()) - 10
		dc.SetRGB(1, 1, 1)
		dc.SetLineWidth(4)
		dc.DrawLine(x0, y0, x0+barPx, y0)
		dc.Stroke()
		dc.SetRGB(0, 0, 0)
		dc.SetLineWidth(2)
		dc.DrawLine(x0, y0, x0+barPx, y0)
		dc.Stroke()
		dc.DrawStringAnchored(fmt.Sprintf("%g m", c.ScaleBarM), x0+barPx/2, y0-6, 0.5, 0)
	}
	return dc.Image(), nil
}

// SaveJPEG writes img with the given quality.
func SaveJPEG(img image.Image, path string, quality int) error {
	return imaging.Save(img, path, imaging.JPEGQuality(quality))
}
