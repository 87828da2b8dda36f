package mosaic

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"reefstitch/internal/config"
)

// MetadataFile is the name of the metadata record inside the mosaics directory.
const MetadataFile = "mosaics.json"

const metadataVersion = 1

// Metadata is what the georeferencer needs to know about a mosaic run.
// MosaicCount counts windows; indices run 0..MosaicCount-1 and may have gaps.
type Metadata struct {
	Version                   int       `json:"version"`
	WindowSeconds             float64   `json:"window_seconds"`
	CaptureStartOffsetSeconds float64   `json:"capture_start_offset_seconds"`
	MosaicCount               int       `json:"mosaic_count"`
	CreatedAt                 time.Time `json:"created_at"`
}

// SaveMetadata writes meta into dir.
func SaveMetadata(dir string, meta Metadata) error {
	meta.Version = metadataVersion
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, MetadataFile), data, 0o644)
}

// LoadMetadata reads the mosaic metadata of dir. A missing file is a configuration error.
func LoadMetadata(dir string) (Metadata, error) {
	var meta Metadata
	path := filepath.Join(dir, MetadataFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return meta, config.Errorf("mosaics", "mosaic metadata %s not found, build mosaics first", path)
	}
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decode %s: %w", path, err)
	}
	if meta.Version != metadataVersion {
		return meta, fmt.Errorf("%s: unsupported mosaic metadata version %d", path, meta.Version)
	}
	return meta, nil
}

// Path is the raster file of mosaic index inside dir.
func Path(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%d.png", index))
}
