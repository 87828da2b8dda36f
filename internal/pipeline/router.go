package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"reefstitch/internal/config"
	"reefstitch/internal/frames"
	"reefstitch/internal/fsutil"
	"reefstitch/internal/georef"
	"reefstitch/internal/mosaic"
	"reefstitch/internal/progress"
	"reefstitch/internal/qc"
	"reefstitch/internal/storage"
	"reefstitch/internal/track"
)

// router implements Processor and routes stages to their concrete handlers.
type router struct {
	log        *slog.Logger
	store      *storage.Store
	rep        progress.Reporter
	extractor  frameExtractor
	normalizer trackNormalizer
	assembler  mosaicAssembler
	georef     georeferencer
	marker     qcMarker
}

type frameExtractor interface {
	Extract(ctx context.Context, videoDir, framesDir string, rep progress.Reporter) (frames.CaptureMetadata, error)
}

type trackNormalizer interface {
	Normalize(path string, cols config.Columns, date string) (*track.Track, track.Stats, error)
}

type mosaicAssembler interface {
	Assemble(ctx context.Context, framesDir, mosaicsDir string, windowSeconds, startOffset float64, rep progress.Reporter) (*mosaic.Result, error)
}

type georeferencer interface {
	Run(ctx context.Context, req georef.Request, rep progress.Reporter) (*georef.Result, error)
}

type qcMarker interface {
	Run(ctx context.Context, mosaicsDir, qcDir string, rep progress.Reporter) (*qc.Result, error)
}

func newRouter(logger *slog.Logger, store *storage.Store, cfg *config.Config, rep progress.Reporter) Processor {
	if cfg == nil {
		cfg = config.Default()
	}
	return &router{
		log:        logger,
		store:      store,
		rep:        progress.OrNop(rep),
		extractor:  frames.NewExtractor(cfg.Extract, cfg.Mosaic, nil, logger),
		normalizer: track.NewNormalizer(cfg.Track, logger),
		assembler:  mosaic.NewAssembler(cfg.Mosaic, nil, logger),
		georef:     georef.NewGeoreferencer(cfg.Georef, logger),
		marker:     qc.NewMarker(cfg.QC, logger),
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	layout := fsutil.NewLayout(job.Project.OutputRoot, job.Project.Name)
	switch job.Type {
	case JobExtract:
		return r.handleExtract(ctx, job, layout)
	case JobTrack:
		return r.handleTrack(ctx, job, layout)
	case JobMosaic:
		return r.handleMosaic(ctx, job, layout)
	case JobGeoref:
		return r.handleGeoref(ctx, job, layout)
	case JobQC:
		return r.handleQC(ctx, job, layout)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleExtract(ctx context.Context, job Job, layout fsutil.Layout) Result {
	meta, err := r.extractor.Extract(ctx, job.Project.VideoDir, layout.Frames, r.rep)
	return Result{Job: job, Error: err, Meta: map[string]any{
		"frames":     meta.LastFrameID,
		"fps":        meta.FramesPerSecond,
		"resolution": meta.Resolution,
	}}
}

func (r *router) handleTrack(ctx context.Context, job Job, layout fsutil.Layout) Result {
	p := job.Project
	t, stats, err := r.normalizer.Normalize(p.TrackFile, p.Columns, p.Date)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	if err := track.Save(layout.TrackPath(), filepath.Base(p.TrackFile), t); err != nil {
		return Result{Job: job, Error: fmt.Errorf("save track: %w", err)}
	}
	r.log.Info("track normalized", "project", p.Name, "stats", stats.String())
	return Result{Job: job, Warnings: stats.Warnings, Meta: map[string]any{
		"points":              t.Len(),
		"rows":                stats.Rows,
		"dropped":             stats.Dropped,
		"duplicates":          stats.Duplicates,
		"depth_filled":        stats.DepthFilled,
		"heading_filled":      stats.HeadingFilled,
		"heading_synthesized": stats.HeadingSynthesized,
		"has_depth":           t.HasDepth,
	}}
}

func (r *router) handleMosaic(ctx context.Context, job Job, layout fsutil.Layout) Result {
	p := job.Project
	res, err := r.assembler.Assemble(ctx, layout.Frames, layout.Mosaics, p.WindowSeconds, p.StartOffset, r.rep)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	if err := r.store.ClearProject(p.Name); err != nil {
		r.log.Warn("could not clear ledger rows", "project", p.Name, "error", err)
	}
	for _, m := range res.Mosaics {
		_ = r.store.RecordMosaic(storage.MosaicRecord{
			Project:    p.Name,
			Index:      m.Index,
			Path:       m.Path,
			FirstFrame: m.FirstFrameID,
			LastFrame:  m.LastFrameID,
			Accepted:   m.Accepted,
			Rejected:   m.Rejected,
			Width:      m.Width,
			Height:     m.Height,
		})
	}
	return Result{Job: job, Warnings: res.Warnings, Meta: map[string]any{
		"windows": res.Metadata.MosaicCount,
		"mosaics": len(res.Mosaics),
		"skipped": res.Skipped,
	}}
}

func (r *router) handleGeoref(ctx context.Context, job Job, layout fsutil.Layout) Result {
	p := job.Project
	t, err := track.Load(layout.TrackPath())
	if err != nil {
		return Result{Job: job, Error: err}
	}
	res, err := r.georef.Run(ctx, georef.Request{
		Track:        t,
		MosaicsDir:   layout.Mosaics,
		OutputDir:    layout.Georef,
		RectifiedDir: layout.Rectified,
		KMZDir:       layout.KMZ,
		SyncTime:     p.SyncTime,
		UTCOffset:    p.UTCOffset,
		Date:         p.Date,
	}, r.rep)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	for _, o := range res.Overlays {
		_ = r.store.RecordOverlay(overlayRecord(p.Name, o))
	}
	return Result{Job: job, Warnings: res.Warnings, Meta: map[string]any{
		"overlays":   len(res.Overlays),
		"archives":   res.Archives,
		"footprints": res.Footprints,
		"dropped":    res.Dropped,
		"complete":   res.Complete,
	}}
}

func (r *router) handleQC(ctx context.Context, job Job, layout fsutil.Layout) Result {
	res, err := r.marker.Run(ctx, layout.Mosaics, layout.QC, r.rep)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	return Result{Job: job, Warnings: res.Warnings, Meta: map[string]any{"sheets": len(res.Sheets)}}
}

func overlayRecord(project string, o georef.GroundOverlay) storage.OverlayRecord {
	rec := storage.OverlayRecord{
		Project:       project,
		Index:         o.MosaicIndex,
		CenterLat:     o.CenterLat,
		CenterLon:     o.CenterLon,
		Heading:       o.Heading,
		Depth:         o.Depth,
		WidthM:        o.WidthM,
		LengthM:       o.LengthM,
		Branch:        o.Branch,
		RectifiedPath: o.RectifiedPath,
	}
	for i, c := range o.Quad {
		rec.Quad[i] = [2]float64{c.Lon, c.Lat}
	}
	return rec
}
