package frames

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"

	"reefstitch/internal/config"
	"reefstitch/internal/fsutil"
)

// CaptureFile is the metadata file name inside a frames directory.
const CaptureFile = "capture.json"

const captureVersion = 1

// CaptureMetadata describes an extracted frame sequence. FramesPerSecond is the
// rate of the saved frames; LastFrameID is the frame counter after the last saved
// frame, so valid ids are 0..LastFrameID-1.
type CaptureMetadata struct {
	Version         int       `json:"version"`
	Resolution      string    `json:"resolution"`
	FramesPerSecond float64   `json:"frames_per_second"`
	LastFrameID     int       `json:"last_frame_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// SaveCapture writes meta into dir.
func SaveCapture(dir string, meta CaptureMetadata) error {
	meta.Version = captureVersion
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, CaptureFile), data, 0o644)
}

// LoadCapture reads the capture metadata of dir. A missing file is a configuration error.
func LoadCapture(dir string) (CaptureMetadata, error) {
	var meta CaptureMetadata
	path := filepath.Join(dir, CaptureFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return meta, config.Errorf("frames", "capture metadata %s not found, extract frames first", path)
	}
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decode %s: %w", path, err)
	}
	if meta.Version != captureVersion {
		return meta, fmt.Errorf("%s: unsupported capture version %d", path, meta.Version)
	}
	if meta.FramesPerSecond <= 0 {
		return meta, config.Errorf("frames", "%s: frames per second must be positive", path)
	}
	return meta, nil
}

// Dir gives access to the numbered frames of a directory.
type Dir struct {
	path   string
	frames map[int]string
}

// OpenDir indexes the numbered images in path.
func OpenDir(path string) (*Dir, error) {
	frames, err := fsutil.NumberedImages(path)
	if err != nil {
		return nil, err
	}
	return &Dir{path: path, frames: frames}, nil
}

// Path returns the file of frame id.
func (d *Dir) Path(id int) (string, bool) {
	p, ok := d.frames[id]
	return p, ok
}

// Len is the number of indexed frames.
func (d *Dir) Len() int { return len(d.frames) }

// Load decodes frame id.
func (d *Dir) Load(id int) (image.Image, error) {
	p, ok := d.frames[id]
	if !ok {
		return nil, fmt.Errorf("frame %d: %w", id, os.ErrNotExist)
	}
	img, err := imaging.Open(p)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", id, err)
	}
	return img, nil
}
