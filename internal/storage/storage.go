package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite run ledger: pipeline jobs, their results and the
// mosaics and overlays they produced.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processing_jobs (
            id TEXT PRIMARY KEY,
            project TEXT NOT NULL,
            stage TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS mosaics (
            project TEXT NOT NULL,
            mosaic_index INTEGER NOT NULL,
            path TEXT,
            first_frame INTEGER,
            last_frame INTEGER,
            accepted INTEGER,
            rejected INTEGER,
            width INTEGER,
            height INTEGER,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (project, mosaic_index)
        );`,
		`CREATE TABLE IF NOT EXISTS overlays (
            project TEXT NOT NULL,
            mosaic_index INTEGER NOT NULL,
            center_lat REAL,
            center_lon REAL,
            heading REAL,
            depth REAL,
            width_m REAL,
            length_m REAL,
            branch TEXT,
            quad_json TEXT,
            rectified_path TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (project, mosaic_index)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_processing_jobs_project ON processing_jobs(project);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures one stage run.
type JobRecord struct {
	ID          string
	Project     string
	Stage       string
	Status      string
	InputPath   string
	OutputPath  string
	OptionsJSON string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// MosaicRecord is a mosaic written by the assembler.
type MosaicRecord struct {
	Project    string `json:"project"`
	Index      int    `json:"index"`
	Path       string `json:"path"`
	FirstFrame int    `json:"first_frame"`
	LastFrame  int    `json:"last_frame"`
	Accepted   int    `json:"accepted"`
	Rejected   int    `json:"rejected"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// OverlayRecord is a georeferenced footprint. Quad holds [lon, lat] pairs.
type OverlayRecord struct {
	Project       string        `json:"project"`
	Index         int           `json:"index"`
	CenterLat     float64       `json:"center_lat"`
	CenterLon     float64       `json:"center_lon"`
	Heading       float64       `json:"heading"`
	Depth         float64       `json:"depth"`
	WidthM        float64       `json:"width_m"`
	LengthM       float64       `json:"length_m"`
	Branch        string        `json:"branch"`
	Quad          [4][2]float64 `json:"quad"`
	RectifiedPath string        `json:"rectified_path"`
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO processing_jobs (id, project, stage, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.Project, rec.Stage, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecentJobs returns the latest jobs up to limit, newest first.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, project, stage, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message FROM processing_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var created time.Time
		var started, completed sql.NullTime
		var errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Project, &rec.Stage, &rec.Status, &rec.InputPath, &rec.OutputPath, &rec.OptionsJSON, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// RecordMosaic upserts a mosaic row. Re-running a project replaces earlier rows.
func (s *Store) RecordMosaic(rec MosaicRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO mosaics (project, mosaic_index, path, first_frame, last_frame, accepted, rejected, width, height) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.Project, rec.Index, rec.Path, rec.FirstFrame, rec.LastFrame, rec.Accepted, rec.Rejected, rec.Width, rec.Height)
	return err
}

// Mosaics lists the mosaics of project by index.
func (s *Store) Mosaics(project string) ([]MosaicRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT project, mosaic_index, path, first_frame, last_frame, accepted, rejected, width, height FROM mosaics WHERE project=? ORDER BY mosaic_index;`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []MosaicRecord
	for rows.Next() {
		var rec MosaicRecord
		if err := rows.Scan(&rec.Project, &rec.Index, &rec.Path, &rec.FirstFrame, &rec.LastFrame, &rec.Accepted, &rec.Rejected, &rec.Width, &rec.Height); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RecordOverlay upserts an overlay row.
func (s *Store) RecordOverlay(rec OverlayRecord) error {
	if s == nil {
		return nil
	}
	quad, err := json.Marshal(rec.Quad)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT OR REPLACE INTO overlays (project, mosaic_index, center_lat, center_lon, heading, depth, width_m, length_m, branch, quad_json, rectified_path) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.Project, rec.Index, rec.CenterLat, rec.CenterLon, rec.Heading, rec.Depth, rec.WidthM, rec.LengthM, rec.Branch, string(quad), rec.RectifiedPath)
	return err
}

// Overlays lists the overlays of project by index.
func (s *Store) Overlays(project string) ([]OverlayRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT project, mosaic_index, center_lat, center_lon, heading, depth, width_m, length_m, branch, quad_json, rectified_path FROM overlays WHERE project=? ORDER BY mosaic_index;`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []OverlayRecord
	for rows.Next() {
		var rec OverlayRecord
		var quad string
		if err := rows.Scan(&rec.Project, &rec.Index, &rec.CenterLat, &rec.CenterLon, &rec.Heading, &rec.Depth, &rec.WidthM, &rec.LengthM, &rec.Branch, &quad, &rec.RectifiedPath); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(quad), &rec.Quad); err != nil {
			return nil, fmt.Errorf("overlay %d quad: %w", rec.Index, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ClearProject removes the mosaic and overlay rows of project before a re-run.
func (s *Store) ClearProject(project string) error {
	if s == nil {
		return nil
	}
	if _, err := s.DB.Exec(`DELETE FROM mosaics WHERE project=?;`, project); err != nil {
		return err
	}
	_, err := s.DB.Exec(`DELETE FROM overlays WHERE project=?;`, project)
	return err
}
