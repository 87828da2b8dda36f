package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Error is a fatal configuration problem. The pipeline aborts on it.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Errorf builds an *Error for field.
func Errorf(field, format string, args ...any) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err wraps an *Error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Stage names.
const (
	StageExtract = "extract"
	StageTrack   = "track"
	StageMosaic  = "mosaic"
	StageGeoref  = "georef"
	StageQC      = "qc"
)

// Stages lists every stage in execution order.
var Stages = []string{StageExtract, StageTrack, StageMosaic, StageGeoref, StageQC}

// Columns maps source column names to track fields. Empty or "NA" means absent.
type Columns struct {
	Time    string `json:"time"`
	Lat     string `json:"lat"`
	Lon     string `json:"lon"`
	Depth   string `json:"depth"`
	Heading string `json:"heading"`
}

// Project is the record the pipeline runs against.
type Project struct {
	Name          string   `json:"name"`
	OutputRoot    string   `json:"output_root"`
	VideoDir      string   `json:"video_dir"`
	TrackFile     string   `json:"track_file"`
	Columns       Columns  `json:"columns"`
	WindowSeconds float64  `json:"window_seconds"`
	StartOffset   float64  `json:"start_offset_seconds"`
	SyncTime      string   `json:"sync_time"`
	UTCOffset     int      `json:"utc_offset"`
	Date          string   `json:"date"`
	Stages        []string `json:"stages"`
}

var clockPattern = regexp.MustCompile(`^\d{1,2}:\d{2}:\d{2}(\.\d+)?$`)

// LoadProject decodes a project record from a JSON file.
func LoadProject(path string) (*Project, error) {
	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, &Error{Field: "project", Reason: err.Error()}
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, Errorf("project", "decode %s: %v", expanded, err)
	}
	return &p, nil
}

// Save writes the project record as indented JSON.
func (p *Project) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Absent reports whether a column mapping value means "not provided".
func Absent(column string) bool {
	c := strings.TrimSpace(column)
	return c == "" || strings.EqualFold(c, "NA")
}

// Enabled reports whether stage is selected. No selection means all stages but extract.
func (p *Project) Enabled(stage string) bool {
	if len(p.Stages) == 0 {
		return stage != StageExtract
	}
	for _, s := range p.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// Validate checks the fields the given stages need.
func (p *Project) Validate(stages ...string) error {
	if strings.TrimSpace(p.Name) == "" {
		return Errorf("name", "project name is required")
	}
	if strings.ContainsAny(p.Name, `/\`) {
		return Errorf("name", "project name %q must not contain path separators", p.Name)
	}
	if strings.TrimSpace(p.OutputRoot) == "" {
		return Errorf("output_root", "output root is required")
	}
	for _, s := range p.Stages {
		if !knownStage(s) {
			return Errorf("stages", "unknown stage %q", s)
		}
	}
	for _, stage := range stages {
		var err error
		switch stage {
		case StageExtract:
			err = p.validateExtract()
		case StageTrack:
			err = p.validateTrack()
		case StageMosaic:
			err = p.validateMosaic()
		case StageGeoref:
			err = p.validateGeoref()
		case StageQC:
		default:
			err = Errorf("stages", "unknown stage %q", stage)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func knownStage(s string) bool {
	for _, k := range Stages {
		if k == s {
			return true
		}
	}
	return false
}

func (p *Project) validateExtract() error {
	if p.VideoDir == "" {
		return Errorf("video_dir", "video directory is required for extraction")
	}
	return nil
}

func (p *Project) validateTrack() error {
	if p.TrackFile == "" {
		return Errorf("track_file", "track file is required")
	}
	if Absent(p.Columns.Time) {
		return Errorf("columns.time", "time column is required")
	}
	if Absent(p.Columns.Lat) {
		return Errorf("columns.lat", "latitude column is required")
	}
	if Absent(p.Columns.Lon) {
		return Errorf("columns.lon", "longitude column is required")
	}
	return nil
}

func (p *Project) validateMosaic() error {
	if p.WindowSeconds < 1 {
		return Errorf("window_seconds", "must be at least 1, got %g", p.WindowSeconds)
	}
	if p.StartOffset < 0 {
		return Errorf("start_offset_seconds", "must not be negative, got %g", p.StartOffset)
	}
	return nil
}

func (p *Project) validateGeoref() error {
	if err := p.validateMosaic(); err != nil {
		return err
	}
	if !clockPattern.MatchString(p.SyncTime) {
		return Errorf("sync_time", "expected HH:MM:SS, got %q", p.SyncTime)
	}
	if p.UTCOffset < -12 || p.UTCOffset > 12 {
		return Errorf("utc_offset", "must be within -12..12, got %d", p.UTCOffset)
	}
	return nil
}
