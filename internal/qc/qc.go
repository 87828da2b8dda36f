// Package qc produces trim-and-mark sheets: horizontal bands of each mosaic,
// cropped to content, with random points crossed out for manual checking.
package qc

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"reefstitch/internal/config"
	"reefstitch/internal/fsutil"
	"reefstitch/internal/mosaic"
	"reefstitch/internal/progress"
)

// Result lists the sheets written.
type Result struct {
	Sheets   []string
	Warnings []string
}

// Marker writes QC sheets.
type Marker struct {
	cfg    config.QCConfig
	logger *slog.Logger
}

func NewMarker(cfg config.QCConfig, logger *slog.Logger) *Marker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Divisions < 1 {
		cfg.Divisions = 1
	}
	return &Marker{cfg: cfg, logger: logger}
}

// MarkSize returns the half-size of an X mark and its stroke width for a
// mosaic of the given height.
func (m *Marker) MarkSize(height int) (box, thickness int) {
	band := float64(height) / float64(m.cfg.Divisions)
	box = int(0.02 * band)
	if box == 0 {
		box = 10
	}
	thickness = int(0.002 * band)
	if thickness == 0 {
		thickness = 1
	}
	return box, thickness
}

// Bands splits height into Divisions row ranges, bottom band first.
func (m *Marker) Bands(height int) []image.Rectangle {
	n := m.cfg.Divisions
	out := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		lower := height * (n - 1 - i) / n
		upper := height * (n - i) / n
		if upper > lower {
			out = append(out, image.Rect(0, lower, 0, upper))
		}
	}
	return out
}

// Run writes sheets for every mosaic of mosaicsDir into qcDir.
func (m *Marker) Run(ctx context.Context, mosaicsDir, qcDir string, rep progress.Reporter) (*Result, error) {
	rep = progress.OrNop(rep)
	numbered, err := fsutil.NumberedImages(mosaicsDir)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	if len(numbered) == 0 {
		res.Warnings = append(res.Warnings, "no mosaics found")
		m.logger.Warn("no mosaics found", "dir", mosaicsDir)
		return res, nil
	}
	indices := make([]int, 0, len(numbered))
	for i := range numbered {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	if err := os.MkdirAll(qcDir, 0o755); err != nil {
		return nil, err
	}
	rep.Start("quality control", len(indices))
	defer rep.Stop()
	for _, index := range indices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := imaging.Open(numbered[index])
		if err != nil {
			msg := fmt.Sprintf("mosaic %d unreadable: %v", index, err)
			m.logger.Warn(msg)
			res.Warnings = append(res.Warnings, msg)
			rep.Increment()
			continue
		}
		rng := rand.New(rand.NewPCG(uint64(m.cfg.Seed), uint64(index)))
		sheets, skipped := m.Mark(imaging.Clone(img), rng)
		for _, b := range skipped {
			msg := fmt.Sprintf("mosaic %d band %d has no content", index, b)
			m.logger.Warn(msg)
			res.Warnings = append(res.Warnings, msg)
		}
		for b, sheet := range sheets {
			if sheet == nil {
				continue
			}
			path := filepath.Join(qcDir, fmt.Sprintf("%d_%d.jpg", index, b))
			if err := imaging.Save(sheet, path); err != nil {
				return nil, fmt.Errorf("save %s: %w", path, err)
			}
			res.Sheets = append(res.Sheets, path)
		}
		rep.Increment()
	}
	return res, nil
}

// Mark cuts img into bands and crosses out Markings random content pixels in
// each. Bands without content come back nil and are listed in skipped.
func (m *Marker) Mark(img *image.NRGBA, rng *rand.Rand) (sheets []image.Image, skipped []int) {
	b := img.Bounds()
	box, thickness := m.MarkSize(b.Dy())
	for i, band := range m.Bands(b.Dy()) {
		rows := image.Rect(b.Min.X, b.Min.Y+band.Min.Y, b.Max.X, b.Min.Y+band.Max.Y)
		crop := imaging.Crop(img, rows)
		content, ok := mosaic.ContentBounds(crop)
		if !ok {
			sheets = append(sheets, nil)
			skipped = append(skipped, i)
			continue
		}
		crop = imaging.Crop(crop, content)
		sheets = append(sheets, m.cross(crop, rng, box, thickness))
	}
	return sheets, skipped
}

func (m *Marker) cross(img *image.NRGBA, rng *rand.Rand, box, thickness int) image.Image {
	var candidates []image.Point
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			if row[x*4]|row[x*4+1]|row[x*4+2] != 0 {
				candidates = append(candidates, image.Pt(x, y))
			}
		}
	}

	dc := gg.NewContextForImage(img)
	dc.SetRGB(1, 1, 0)
	dc.SetLineWidth(float64(thickness))
	d := float64(box)
	for k := 0; k < m.cfg.Markings && len(candidates) > 0; k++ {
		p := candidates[rng.IntN(len(candidates))]
		x, y := float64(p.X), float64(p.Y)
		dc.DrawLine(x-d, y-d, x+d, y+d)
		dc.DrawLine(x-d, y+d, x+d, y-d)
		dc.Stroke()
	}
	return dc.Image()
}
