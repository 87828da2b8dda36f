package frames

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"reefstitch/internal/config"
	"reefstitch/internal/fsutil"
	"reefstitch/internal/progress"
)

// Encoder is the part of ffmpeg the extractor needs.
type Encoder interface {
	// FrameRate reports the average frame rate of the first video stream.
	FrameRate(video string) (float64, error)
	// Frames writes every interval-th frame of video, scaled to res, as
	// <dir>/<n>.jpg with n counting up from start, and returns how many it wrote.
	Frames(ctx context.Context, video, dir string, start, interval int, res config.Resolution) (int, error)
}

// Extractor turns a directory of videos into one numbered frame sequence.
type Extractor struct {
	cfg     config.ExtractConfig
	mosaic  config.MosaicConfig
	encoder Encoder
	logger  *slog.Logger
}

// NewExtractor uses ffmpeg unless enc is non-nil.
func NewExtractor(cfg config.ExtractConfig, mosaic config.MosaicConfig, enc Encoder, logger *slog.Logger) *Extractor {
	if enc == nil {
		enc = FFmpeg{Path: cfg.FFmpegPath}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cfg: cfg, mosaic: mosaic, encoder: enc, logger: logger}
}

// Extract processes the videos of videoDir in name order into framesDir and
// writes the capture metadata. Frame ids continue across videos.
func (e *Extractor) Extract(ctx context.Context, videoDir, framesDir string, rep progress.Reporter) (CaptureMetadata, error) {
	var meta CaptureMetadata
	res, err := e.mosaic.Resolution(e.cfg.Resolution)
	if err != nil {
		return meta, err
	}
	interval := e.cfg.Interval
	if interval < 1 {
		interval = 1
	}
	videos, err := fsutil.ListByExt(videoDir, e.cfg.VideoExts)
	if err != nil {
		return meta, config.Errorf("video_dir", "%v", err)
	}
	if len(videos) == 0 {
		return meta, config.Errorf("video_dir", "no videos with extensions %v in %s", e.cfg.VideoExts, videoDir)
	}

	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return meta, err
	}
	stale, err := fsutil.RemoveNumbered(framesDir)
	if err != nil {
		return meta, fmt.Errorf("clear frames: %w", err)
	}
	if err := os.Remove(filepath.Join(framesDir, CaptureFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return meta, fmt.Errorf("clear frames: %w", err)
	}
	if stale > 0 {
		e.logger.Info("removed frames of a previous extraction", "dir", framesDir, "frames", stale)
	}

	rep = progress.OrNop(rep)
	rep.Start("Extracting frames", len(videos))
	defer rep.Stop()

	var fps float64
	count := 0
	for _, video := range videos {
		if err := ctx.Err(); err != nil {
			return meta, err
		}
		rate, err := e.encoder.FrameRate(video)
		if err != nil {
			return meta, fmt.Errorf("probe %s: %w", video, err)
		}
		if fps == 0 {
			fps = rate
		} else if math.Abs(rate-fps) > 0.01 {
			e.logger.Warn("video frame rate differs from the first video", "video", video, "fps", rate, "first_fps", fps)
		}
		n, err := e.encoder.Frames(ctx, video, framesDir, count, interval, res)
		if err != nil {
			return meta, fmt.Errorf("extract %s: %w", video, err)
		}
		e.logger.Info("frames extracted", "video", video, "frames", n, "first_id", count)
		count += n
		rep.Increment()
	}

	meta = CaptureMetadata{
		Resolution:      e.cfg.Resolution,
		FramesPerSecond: fps / float64(interval),
		LastFrameID:     count,
	}
	if err := SaveCapture(framesDir, meta); err != nil {
		return meta, err
	}
	meta.Version = captureVersion
	return meta, nil
}

// FFmpeg drives the ffmpeg binary through ffmpeg-go.
type FFmpeg struct {
	Path string
}

type probeResult struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
}

// FrameRate implements Encoder.
func (f FFmpeg) FrameRate(video string) (float64, error) {
	out, err := ffmpeg.Probe(video)
	if err != nil {
		return 0, err
	}
	return parseProbe(out)
}

func parseProbe(out string) (float64, error) {
	var pr probeResult
	if err := json.Unmarshal([]byte(out), &pr); err != nil {
		return 0, fmt.Errorf("decode probe output: %w", err)
	}
	for _, s := range pr.Streams {
		if s.CodecType != "video" {
			continue
		}
		for _, r := range []string{s.AvgFrameRate, s.RFrameRate} {
			if v, err := parseRate(r); err == nil && v > 0 {
				return v, nil
			}
		}
	}
	return 0, fmt.Errorf("no video stream with a frame rate")
}

func parseRate(r string) (float64, error) {
	num, den, ok := strings.Cut(r, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, err
	}
	if !ok {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("bad rate %q", r)
	}
	return n / d, nil
}

// Frames implements Encoder.
func (f FFmpeg) Frames(ctx context.Context, video, dir string, start, interval int, res config.Resolution) (int, error) {
	stream := ffmpeg.Input(video).
		Output(dir+"/%d.jpg", ffmpeg.KwArgs{
			"vf":           fmt.Sprintf(`select=not(mod(n\,%d)),scale=%d:%d`, interval, res.Width, res.Height),
			"vsync":        "vfr",
			"start_number": start,
			"q:v":          2,
		}).
		OverWriteOutput()
	stream.Context = ctx
	cmd := stream.Compile()
	if f.Path != "" && f.Path != "ffmpeg" {
		cmd.Path, cmd.Args[0], cmd.Err = f.Path, f.Path, nil
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return 0, fmt.Errorf("%w: %s", err, lastLine(out))
	}
	written, err := fsutil.NumberedImages(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for id := range written {
		if id >= start {
			n++
		}
	}
	return n, nil
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return lines[len(lines)-1]
}
