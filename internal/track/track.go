package track

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Point is one normalized GPS fix. Time is seconds of day.
type Point struct {
	Time    float64 `json:"t"`
	Date    string  `json:"date,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Depth   float64 `json:"depth"`
	Heading float64 `json:"heading"`
}

// Track is a normalized, strictly time-increasing sequence of points.
// HasHeading is false when headings were synthesized from positions.
type Track struct {
	Points     []Point  `json:"points"`
	HasDepth   bool     `json:"has_depth"`
	HasHeading bool     `json:"has_heading"`
	Dates      []string `json:"dates,omitempty"`
}

// Len returns the number of points.
func (t *Track) Len() int { return len(t.Points) }

// Times returns the time axis.
func (t *Track) Times() []float64 {
	out := make([]float64, len(t.Points))
	for i, p := range t.Points {
		out[i] = p.Time
	}
	return out
}

// Date returns the calendar date of the first point, if known.
func (t *Track) Date() string {
	for _, p := range t.Points {
		if p.Date != "" {
			return p.Date
		}
	}
	return ""
}

const fileVersion = 1

type trackFile struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Source    string    `json:"source"`
	Track
}

// Save writes the track as versioned JSON.
func Save(path, source string, t *Track) error {
	data, err := json.MarshalIndent(trackFile{
		Version:   fileVersion,
		CreatedAt: time.Now().UTC(),
		Source:    source,
		Track:     *t,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a track written by Save.
func Load(path string) (*Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f trackFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if f.Version != fileVersion {
		return nil, fmt.Errorf("%s: unsupported track version %d", path, f.Version)
	}
	if len(f.Points) == 0 {
		return nil, fmt.Errorf("%s: track has no points", path)
	}
	t := f.Track
	return &t, nil
}
