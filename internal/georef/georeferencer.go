package georef

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	geo "github.com/kellydunn/golang-geo"

	"reefstitch/internal/config"
	"reefstitch/internal/mosaic"
	"reefstitch/internal/progress"
	"reefstitch/internal/track"
)

// GroundOverlay is one georeferenced mosaic. It is not modified once built.
type GroundOverlay struct {
	MosaicIndex     int       `json:"mosaic_index"`
	CenterLat       float64   `json:"center_lat"`
	CenterLon       float64   `json:"center_lon"`
	Heading         float64   `json:"heading"`
	Depth           float64   `json:"depth"`
	WidthM          float64   `json:"width_m"`
	LengthM         float64   `json:"length_m"`
	Quad            [4]LonLat `json:"quad"`
	Branch          string    `json:"branch"`
	MosaicPath      string    `json:"mosaic_path"`
	RectifiedPath   string    `json:"rectified_path"`
	RectifiedWidth  int       `json:"rectified_width"`
	RectifiedHeight int       `json:"rectified_height"`
	Date            string    `json:"date"`
}

// Request names the inputs and output directories of one run.
type Request struct {
	Track        *track.Track
	MosaicsDir   string
	OutputDir    string // footprints.geojson
	RectifiedDir string
	KMZDir       string
	SyncTime     string
	UTCOffset    int
	Date         string
}

// Result is the outcome of a georeferencing run.
type Result struct {
	Overlays   []GroundOverlay
	Archives   []string
	Footprints string
	Dropped    int  // fixes before the sync time
	Complete   bool // every mosaic window was covered by the track
	Warnings   []string
}

// Georeferencer places mosaics on the ground using the synchronized track.
type Georeferencer struct {
	cfg    config.GeorefConfig
	logger *slog.Logger
}

func NewGeoreferencer(cfg config.GeorefConfig, logger *slog.Logger) *Georeferencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Georeferencer{cfg: cfg, logger: logger}
}

func (g *Georeferencer) warn(res *Result, msg string, args ...any) {
	g.logger.Warn(msg, args...)
	res.Warnings = append(res.Warnings, msg)
}

// Sync converts the sync time to the GPS clock and drops earlier fixes.
func (g *Georeferencer) Sync(t *track.Track, syncTime string, utcOffset int, res *Result) ([]track.Point, error) {
	syncGPS, err := SyncClock(syncTime, utcOffset, g.cfg.ReferenceUTCOffset)
	if err != nil {
		return nil, err
	}
	pts, dropped := Synchronize(t.Points, syncGPS)
	res.Dropped = dropped
	if dropped == 0 {
		g.warn(res, "no GPS fixes precede the sync time; the track may start after the video", "sync_gps", track.FormatClock(syncGPS))
	}
	if len(pts) == 0 {
		return nil, config.Errorf("sync_time", "no GPS fixes at or after %s (GPS clock %s)", syncTime, track.FormatClock(syncGPS))
	}
	return pts, nil
}

// Run georeferences every mosaic of req.MosaicsDir.
func (g *Georeferencer) Run(ctx context.Context, req Request, rep progress.Reporter) (*Result, error) {
	rep = progress.OrNop(rep)
	if req.Track == nil || req.Track.Len() == 0 {
		return nil, config.Errorf("track", "track is empty, normalize it first")
	}
	meta, err := mosaic.LoadMetadata(req.MosaicsDir)
	if err != nil {
		return nil, err
	}
	w := int(math.Floor(meta.WindowSeconds))
	if w < 1 {
		return nil, config.Errorf("window_seconds", "mosaic window %g s is shorter than one second", meta.WindowSeconds)
	}
	for _, dir := range []string{req.RectifiedDir, req.KMZDir, req.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	res := &Result{}
	pts, err := g.Sync(req.Track, req.SyncTime, req.UTCOffset, res)
	if err != nil {
		return nil, err
	}
	series, err := Resample(pts, req.Track.HasDepth)
	if err != nil {
		return nil, err
	}

	base := 0
	if g.cfg.SyncAnchor == config.AnchorVideoStart {
		base = int(math.Round(meta.CaptureStartOffsetSeconds))
	}
	date := req.Date
	if date == "" {
		date = req.Track.Date()
	}

	batch := NewExportBatch(req.KMZDir, g.cfg.ArchiveLimit)
	res.Complete = true
	rep.Start("georeferencing", meta.MosaicCount)
	defer rep.Stop()

	for i := 0; i < meta.MosaicCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := base + i*w
		end := start + w
		if end >= series.Len() {
			res.Complete = false
			g.warn(res, "could not georeference all mosaics, the track ends first", "georeferenced", len(res.Overlays), "mosaics", meta.MosaicCount)
			break
		}
		path := mosaic.Path(req.MosaicsDir, i)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			g.warn(res, fmt.Sprintf("mosaic %d missing, skipped", i), "path", path)
			rep.Increment()
			continue
		}
		o, err := g.overlay(i, path, series, start, end, date, req.RectifiedDir)
		if err != nil {
			g.warn(res, fmt.Sprintf("mosaic %d not georeferenced: %v", i, err))
			rep.Increment()
			continue
		}
		if err := batch.Add(o); err != nil {
			return nil, fmt.Errorf("export kmz: %w", err)
		}
		res.Overlays = append(res.Overlays, o)
		g.logger.Debug("overlay placed", "index", i, "heading", o.Heading, "width_m", o.WidthM, "branch", o.Branch)
		rep.Increment()
	}

	if err := batch.Flush(); err != nil {
		return nil, fmt.Errorf("export kmz: %w", err)
	}
	res.Archives = batch.Archives()
	res.Footprints = filepath.Join(req.OutputDir, FootprintsFile)
	if err := WriteFootprints(res.Footprints, res.Overlays); err != nil {
		return nil, fmt.Errorf("write footprints: %w", err)
	}
	return res, nil
}

// Width is the swath width of samples [start, end): proportional to the mean
// depth when known, otherwise the fallback.
func (g *Georeferencer) Width(s *Series, start, end int) (float64, float64) {
	if !s.HasDepth || end <= start {
		return g.cfg.FallbackWidthM, 0
	}
	sum := 0.0
	for _, d := range s.Depth[start:end] {
		sum += d
	}
	mean := sum / float64(end-start)
	return g.cfg.SwathDepthRatio * mean, mean
}

func (g *Georeferencer) overlay(index int, path string, s *Series, start, end int, date, rectDir string) (GroundOverlay, error) {
	mid := start + (end-start)/2
	width, depth := g.Width(s, start, end)
	p0 := LonLat{Lon: s.Lon[start], Lat: s.Lat[start]}
	p1 := LonLat{Lon: s.Lon[end], Lat: s.Lat[end]}
	fp := Corners(p0, p1, s.Heading[start], s.Heading[end], s.Heading[mid], width, g.cfg.EarthRadiusM)

	img, err := imaging.Open(path)
	if err != nil {
		return GroundOverlay{}, err
	}
	rotated := Rotate(img, s.Heading[mid])
	caption := Caption{
		Index:     index,
		Date:      date,
		Lat:       s.Lat[mid],
		Lon:       s.Lon[mid],
		Heading:   s.Heading[mid],
		Depth:     depth,
		HasDepth:  s.HasDepth,
		ScaleBarM: g.cfg.ScaleBarM,
	}
	if width > 0 {
		caption.PxPerM = float64(img.Bounds().Dx()) / width
	}
	page, err := Present(rotated, caption)
	if err != nil {
		return GroundOverlay{}, err
	}
	rectified := filepath.Join(rectDir, fmt.Sprintf("%d.jpg", index))
	if err := SaveJPEG(page, rectified, g.cfg.JPEGQuality); err != nil {
		return GroundOverlay{}, fmt.Errorf("save %s: %w", rectified, err)
	}

	length := geo.NewPoint(p0.Lat, p0.Lon).GreatCircleDistance(geo.NewPoint(p1.Lat, p1.Lon)) * 1000
	return GroundOverlay{
		MosaicIndex:     index,
		CenterLat:       s.Lat[mid],
		CenterLon:       s.Lon[mid],
		Heading:         s.Heading[mid],
		Depth:           depth,
		WidthM:          width,
		LengthM:         length,
		Quad:            fp.Quad,
		Branch:          fp.Branch,
		MosaicPath:      path,
		RectifiedPath:   rectified,
		RectifiedWidth:  page.Bounds().Dx(),
		RectifiedHeight: page.Bounds().Dy(),
		Date:            date,
	}, nil
}
