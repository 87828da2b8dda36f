package mosaic

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"

	"github.com/disintegration/imaging"

	"reefstitch/internal/config"
	"reefstitch/internal/frames"
	"reefstitch/internal/logging"
	"reefstitch/internal/progress"
)

// Mosaic is one assembled window.
type Mosaic struct {
	Index        int
	Image        *image.NRGBA
	FirstFrameID int
	LastFrameID  int
	Accepted     int // frames placed after the first
	Rejected     int
}

// Summary describes a mosaic written to disk.
type Summary struct {
	Index        int    `json:"index"`
	Path         string `json:"path"`
	FirstFrameID int    `json:"first_frame_id"`
	LastFrameID  int    `json:"last_frame_id"`
	Accepted     int    `json:"accepted"`
	Rejected     int    `json:"rejected"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

// Result is the outcome of an assembly run.
type Result struct {
	Metadata Metadata
	Mosaics  []Summary
	Skipped  []int
	Warnings []string
}

// Assembler turns frame windows into mosaics.
type Assembler struct {
	cfg     config.MosaicConfig
	matcher Matcher
	logger  *slog.Logger
}

// NewAssembler uses a PhaseMatcher unless matcher is non-nil.
func NewAssembler(cfg config.MosaicConfig, matcher Matcher, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{cfg: cfg, matcher: matcher, logger: logger}
}

type stripSource struct {
	dir     *frames.Dir
	half    int
	channel int
}

func (s stripSource) strip(id int) (*image.NRGBA, Grid, error) {
	img, err := s.dir.Load(id)
	if err != nil {
		return nil, Grid{}, err
	}
	strip, err := CutStrip(img, s.half)
	if err != nil {
		return nil, Grid{}, fmt.Errorf("frame %d: %w", id, err)
	}
	return strip, ChannelGrid(strip, s.channel), nil
}

// Assemble builds one mosaic per window of the capture in framesDir and writes
// <index>.png plus the metadata record into mosaicsDir.
func (a *Assembler) Assemble(ctx context.Context, framesDir, mosaicsDir string, windowSeconds, startOffset float64, rep progress.Reporter) (*Result, error) {
	meta, err := frames.LoadCapture(framesDir)
	if err != nil {
		return nil, err
	}
	res, err := a.cfg.Resolution(meta.Resolution)
	if err != nil {
		return nil, err
	}
	if a.cfg.Channel < 0 || a.cfg.Channel > 2 {
		return nil, config.Errorf("mosaic.channel", "channel must be 0, 1 or 2, got %d", a.cfg.Channel)
	}
	windows, err := Windows(meta, windowSeconds, startOffset)
	if err != nil {
		return nil, err
	}
	dir, err := frames.OpenDir(framesDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(mosaicsDir, 0o755); err != nil {
		return nil, err
	}

	matcher := a.matcher
	if matcher == nil {
		matcher = NewPhaseMatcher(a.cfg.UpperThresholdRatio * float64(res.Width))
	}
	src := stripSource{dir: dir, half: StripHalfHeight(res.Height, a.cfg.OverlapRatio), channel: a.cfg.Channel}
	stitch := a.cfg.StitchThresholdRatio * float64(res.Width)

	out := &Result{}
	rep = progress.OrNop(rep)
	rep.Start("Creating mosaics", len(windows))
	defer rep.Stop()

	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		m, err := a.build(w, src, matcher, stitch)
		if err == nil {
			var sum Summary
			sum, err = a.write(m, mosaicsDir)
			if err == nil {
				out.Mosaics = append(out.Mosaics, sum)
				logging.LogProcessingStep(a.logger, "mosaic", fmt.Sprintf("window %d", w.Index), "completed", map[string]any{
					"frames":   fmt.Sprintf("%d-%d", sum.FirstFrameID, sum.LastFrameID),
					"accepted": sum.Accepted,
					"rejected": sum.Rejected,
				})
			}
		}
		if err != nil {
			msg := fmt.Sprintf("mosaic %d could not be created: %v", w.Index, err)
			out.Skipped = append(out.Skipped, w.Index)
			out.Warnings = append(out.Warnings, msg)
			a.logger.Warn("mosaic skipped", "index", w.Index, "first_frame", w.Start, "error", err)
		}
		rep.Increment()
	}

	out.Metadata = Metadata{
		WindowSeconds:             windowSeconds,
		CaptureStartOffsetSeconds: startOffset,
		MosaicCount:               len(windows),
	}
	if err := SaveMetadata(mosaicsDir, out.Metadata); err != nil {
		return out, err
	}
	out.Metadata.Version = metadataVersion
	a.logger.Info("mosaics assembled", "windows", len(windows), "written", len(out.Mosaics), "skipped", len(out.Skipped))
	return out, nil
}

// build registers the frames of one window against each other and stitches
// their strips. Each frame is matched against the last accepted strip.
func (a *Assembler) build(w Window, src stripSource, matcher Matcher, stitch float64) (*Mosaic, error) {
	var (
		canvas *Canvas
		ref    Grid
		m      = &Mosaic{Index: w.Index, FirstFrameID: -1}
	)
	for id := w.Start; id < w.End; id++ {
		if _, ok := src.dir.Path(id); !ok {
			continue
		}
		strip, grid, err := src.strip(id)
		if err != nil {
			a.logger.Warn("frame unreadable", "frame", id, "error", err)
			m.Rejected++
			continue
		}
		if canvas == nil {
			canvas = NewCanvas(strip)
			ref = grid
			m.FirstFrameID, m.LastFrameID = id, id
			continue
		}
		reg, err := matcher.Match(ref, grid)
		if err != nil {
			a.logger.Warn("registration failed", "frame", id, "error", err)
			m.Rejected++
			continue
		}
		if reg.Distance > stitch {
			a.logger.Debug("frame rejected", "frame", id, "distance", reg.Distance, "estimator", reg.Estimator)
			m.Rejected++
			continue
		}
		canvas.Place(strip, reg.DX, reg.DY)
		ref = grid
		m.LastFrameID = id
		m.Accepted++
	}
	if canvas == nil {
		return nil, fmt.Errorf("no frames in [%d, %d)", w.Start, w.End)
	}
	img, err := Finalize(canvas.Image(), a.cfg.ClosingKernel)
	if err != nil {
		return nil, err
	}
	m.Image = img
	return m, nil
}

func (a *Assembler) write(m *Mosaic, dir string) (Summary, error) {
	path := Path(dir, m.Index)
	if err := imaging.Save(m.Image, path); err != nil {
		return Summary{}, err
	}
	b := m.Image.Bounds()
	return Summary{
		Index:        m.Index,
		Path:         path,
		FirstFrameID: m.FirstFrameID,
		LastFrameID:  m.LastFrameID,
		Accepted:     m.Accepted,
		Rejected:     m.Rejected,
		Width:        b.Dx(),
		Height:       b.Dy(),
	}, nil
}
