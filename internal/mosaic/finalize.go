package mosaic

import (
	"errors"
	"fmt"
	"image"

	"gopkg.in/gographics/imagick.v3/imagick"
)

// ErrEmptyMosaic is returned when a canvas holds no non-black pixel.
var ErrEmptyMosaic = errors.New("mosaic has no content")

// Finalize crops the canvas to the bounding box of its non-black pixels and
// stores an opacity mask in the alpha channel: opaque where a pixel is not pure
// black, then closed with a kernel x kernel square so small holes fill in.
func Finalize(img *image.NRGBA, kernel int) (*image.NRGBA, error) {
	box, ok := ContentBounds(img)
	if !ok {
		return nil, ErrEmptyMosaic
	}
	w, h := box.Dx(), box.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	mask := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		src := img.Pix[img.PixOffset(box.Min.X, box.Min.Y+y):]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			r, g, b := src[x*4], src[x*4+1], src[x*4+2]
			dst[x*4], dst[x*4+1], dst[x*4+2] = r, g, b
			if r|g|b != 0 {
				mask[y*w+x] = 255
			}
		}
	}
	mask, err := closeMask(mask, w, h, kernel)
	if err != nil {
		return nil, err
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[y*out.Stride+x*4+3] = mask[y*w+x]
		}
	}
	return out, nil
}

// ContentBounds is the smallest rectangle holding every non-black pixel.
func ContentBounds(img *image.NRGBA) (image.Rectangle, bool) {
	b := img.Bounds()
	minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			if row[x*4]|row[x*4+1]|row[x*4+2] == 0 {
				continue
			}
			px := b.Min.X + x
			minX, maxX = min(minX, px), max(maxX, px)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if maxX < minX {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// closeMask runs a morphological close over the mask with a square kernel of
// side kernel (rounded up to odd).
func closeMask(mask []uint8, w, h, kernel int) ([]uint8, error) {
	if kernel <= 1 {
		return mask, nil
	}
	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()
	if err := mw.ConstituteImage(uint(w), uint(h), "I", imagick.PIXEL_CHAR, mask); err != nil {
		return nil, fmt.Errorf("failed to load mask: %w", err)
	}

	k, err := imagick.NewKernelInfo(fmt.Sprintf("Square:%d", kernel/2))
	if err != nil {
		return nil, fmt.Errorf("failed to create kernel: %w", err)
	}
	defer k.Destroy()

	if err := mw.MorphologyImage(imagick.MORPHOLOGY_CLOSE, 1, k); err != nil {
		return nil, fmt.Errorf("failed to close mask: %w", err)
	}

	px, err := mw.ExportImagePixels(0, 0, uint(w), uint(h), "I", imagick.PIXEL_CHAR)
	if err != nil {
		return nil, fmt.Errorf("failed to export mask: %w", err)
	}
	closed, ok := px.([]byte)
	if !ok || len(closed) != w*h {
		return nil, fmt.Errorf("unexpected mask export %T", px)
	}
	return closed, nil
}
