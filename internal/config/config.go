package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	defaultConfigPath = "~/.config/reefstitch/config.json"
	configEnv         = "REEFSTITCH_CONFIG"
)

// Config holds user-editable settings for the pipeline.
type Config struct {
	Logging Logging       `json:"logging"`
	Paths   Paths         `json:"paths"`
	Track   TrackConfig   `json:"track"`
	Mosaic  MosaicConfig  `json:"mosaic"`
	Georef  GeorefConfig  `json:"georef"`
	Extract ExtractConfig `json:"extract"`
	QC      QCConfig      `json:"qc"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
	MaxSize    int    `json:"max_size"`    // Max size in MB before rotation
	MaxBackups int    `json:"max_backups"` // Number of backup files to keep
	MaxAge     int    `json:"max_age"`     // Days to keep log files
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultOutput string `json:"default_output"`
	DatabasePath  string `json:"database_path"`
}

// TrackConfig bounds the header sniffing of delimited track exports.
type TrackConfig struct {
	MaxSkipRows int `json:"max_skip_rows"`
	SampleRows  int `json:"sample_rows"`
	MinColumns  int `json:"min_columns"`
}

// Resolution is a named frame size from the capture table.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MosaicConfig carries the registration and finalization thresholds.
type MosaicConfig struct {
	Resolutions          map[string]Resolution `json:"resolutions"`
	OverlapRatio         float64               `json:"overlap_ratio"`          // strip height as a fraction of frame height
	UpperThresholdRatio  float64               `json:"upper_threshold_ratio"`  // phase-correlation trust radius, fraction of width
	StitchThresholdRatio float64               `json:"stitch_threshold_ratio"` // rejection radius, fraction of width
	ClosingKernel        int                   `json:"closing_kernel"`
	Channel              int                   `json:"channel"` // 0=R 1=G 2=B
}

// GeorefConfig carries the footprint constants.
type GeorefConfig struct {
	SwathDepthRatio    float64 `json:"swath_depth_ratio"`
	FallbackWidthM     float64 `json:"fallback_width_m"`
	EarthRadiusM       float64 `json:"earth_radius_m"`
	ReferenceUTCOffset int     `json:"reference_utc_offset"`
	ArchiveLimit       int     `json:"archive_limit"`
	SyncAnchor         string  `json:"sync_anchor"` // mosaic-start, video-start
	ScaleBarM          float64 `json:"scale_bar_m"`
	JPEGQuality        int     `json:"jpeg_quality"`
}

// ExtractConfig controls frame extraction.
type ExtractConfig struct {
	FFmpegPath string   `json:"ffmpeg_path"`
	Resolution string   `json:"resolution"`
	Interval   int      `json:"interval"`
	VideoExts  []string `json:"video_exts"`
}

// QCConfig controls trim-and-mark sheets.
type QCConfig struct {
	Divisions int   `json:"divisions"`
	Markings  int   `json:"markings"`
	Seed      int64 `json:"seed"`
}

const (
	AnchorMosaicStart = "mosaic-start"
	AnchorVideoStart  = "video-start"
)

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv(configEnv)
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", expanded, err)
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Path reports the config file location Load would read.
func Path() string {
	if p := os.Getenv(configEnv); p != "" {
		return p
	}
	return defaultConfigPath
}

func defaultConfig() *Config {
	return &Config{
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
			MaxSize:    100, // 100MB
			MaxBackups: 5,
			MaxAge:     30, // 30 days
		},
		Paths: Paths{
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(os.TempDir(), "reefstitch.db"),
		},
		Track: TrackConfig{
			MaxSkipRows: 50,
			SampleRows:  100,
			MinColumns:  3,
		},
		Mosaic: MosaicConfig{
			Resolutions: map[string]Resolution{
				"1080p": {Width: 1920, Height: 1080},
				"720p":  {Width: 1280, Height: 720},
				"480p":  {Width: 854, Height: 480},
				"360p":  {Width: 640, Height: 360},
			},
			OverlapRatio:         0.2,
			UpperThresholdRatio:  0.2,
			StitchThresholdRatio: 0.5,
			ClosingKernel:        15,
			Channel:              1,
		},
		Georef: GeorefConfig{
			SwathDepthRatio:    1.55948,
			FallbackWidthM:     5,
			EarthRadiusM:       6378137,
			ReferenceUTCOffset: 8,
			ArchiveLimit:       100,
			SyncAnchor:         AnchorMosaicStart,
			ScaleBarM:          1,
			JPEGQuality:        90,
		},
		Extract: ExtractConfig{
			FFmpegPath: "ffmpeg",
			Resolution: "480p",
			Interval:   1,
			VideoExts:  []string{".mp4", ".mov", ".avi", ".mkv"},
		},
		QC: QCConfig{
			Divisions: 4,
			Markings:  20,
			Seed:      1,
		},
	}
}

// Resolution looks up a named resolution.
func (m MosaicConfig) Resolution(name string) (Resolution, error) {
	r, ok := m.Resolutions[name]
	if !ok {
		names := make([]string, 0, len(m.Resolutions))
		for k := range m.Resolutions {
			names = append(names, k)
		}
		sort.Strings(names)
		return Resolution{}, Errorf("resolution", "unknown resolution %q (have %v)", name, names)
	}
	return r, nil
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
