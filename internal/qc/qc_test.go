package qc

import (
	"context"
	"fmt"
	"image"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"reefstitch/internal/config"
	"reefstitch/internal/logging"
	"reefstitch/internal/progress"
)

func newMarker(div, marks int) *Marker {
	return NewMarker(config.QCConfig{Divisions: div, Markings: marks, Seed: 3}, logging.Discard())
}

// halfLit is black on the left half and grey on the right.
func halfLit(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := w / 2; x < w; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 90, 90, 90, 255
		}
	}
	return img
}

func TestBandsBottomUp(t *testing.T) {
	bands := newMarker(4, 1).Bands(100)
	if len(bands) != 4 {
		t.Fatalf("bands = %v", bands)
	}
	if bands[0].Min.Y != 75 || bands[0].Max.Y != 100 || bands[3].Min.Y != 0 {
		t.Fatalf("bands = %v", bands)
	}
}

func TestMarkSizeMinimums(t *testing.T) {
	cases := []struct {
		height, box, thick int
	}{
		{100, 10, 1},
		{4000, 20, 2},
	}
	m := newMarker(4, 1)
	for _, tc := range cases {
		box, thick := m.MarkSize(tc.height)
		if box != tc.box || thick != tc.thick {
			t.Fatalf("MarkSize(%d) = %d, %d", tc.height, box, thick)
		}
	}
}

func TestMarkCropsAndCrosses(t *testing.T) {
	m := newMarker(2, 5)
	sheets, skipped := m.Mark(halfLit(60, 40), rand.New(rand.NewPCG(1, 2)))
	if len(skipped) != 0 || len(sheets) != 2 {
		t.Fatalf("sheets %d skipped %v", len(sheets), skipped)
	}
	b := sheets[0].Bounds()
	if b.Dx() != 30 || b.Dy() != 20 {
		t.Fatalf("sheet bounds %v", b)
	}
	yellow := 0
	nrgba := imaging.Clone(sheets[0])
	for i := 0; i < len(nrgba.Pix); i += 4 {
		// grey content has R == B; yellow strokes pull them apart
		if int(nrgba.Pix[i])-int(nrgba.Pix[i+2]) > 60 {
			yellow++
		}
	}
	if yellow == 0 {
		t.Fatalf("no marks drawn")
	}
}

func TestMarkSkipsEmptyBands(t *testing.T) {
	img := halfLit(20, 20)
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i], img.Pix[i+1], img.Pix[i+2] = 0, 0, 0
		}
	}
	sheets, skipped := newMarker(2, 1).Mark(img, rand.New(rand.NewPCG(1, 2)))
	if len(skipped) != 1 || skipped[0] != 1 || sheets[1] != nil {
		t.Fatalf("skipped = %v", skipped)
	}
}

func TestRunWritesSheets(t *testing.T) {
	mosaics := t.TempDir()
	for _, i := range []int{0, 2} {
		if err := imaging.Save(halfLit(40, 40), filepath.Join(mosaics, fmt.Sprintf("%d.png", i))); err != nil {
			t.Fatal(err)
		}
	}
	out := filepath.Join(t.TempDir(), "QC")
	rec := progress.NewRecorder(nil)
	res, err := newMarker(4, 3).Run(context.Background(), mosaics, out, rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Sheets) != 8 || rec.Increments() != 2 {
		t.Fatalf("sheets = %v", res.Sheets)
	}
	if _, err := os.Stat(filepath.Join(out, "2_3.jpg")); err != nil {
		t.Fatalf("missing sheet: %v", err)
	}
}

func TestRunWithoutMosaics(t *testing.T) {
	res, err := newMarker(4, 3).Run(context.Background(), t.TempDir(), t.TempDir(), nil)
	if err != nil || len(res.Warnings) != 1 {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
}
