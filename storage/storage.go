// Package storage provides SQLite-based run recording for closed loops.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

// Store handles SQLite database operations for run recording.
type Store struct {
	db *sql.DB
}

// Run represents a closed-loop run record.
type Run struct {
	ID         string     `json:"id"`
	Started    time.Time  `json:"started"`
	Finished   *time.Time `json:"finished,omitempty"`
	Status     string     `json:"status"` // "running", "success", "error", "timeout", "unstable"
	ConfigJSON string     `json:"config_json,omitempty"`
}

// Sample represents a single recorded trajectory point.
type Sample struct {
	RunID      string  `json:"run_id"`
	Tick       int     `json:"tick"`
	T          float64 `json:"t"`
	SyncRatio  float64 `json:"sync_ratio"`
	OrderParam float64 `json:"order_param"`
	Stability  float64 `json:"stability"`
	Feedback   float64 `json:"feedback"`
}

// Analysis represents one recorded spectral analysis.
type Analysis struct {
	ID         int64  `json:"id"`
	RunID      string `json:"run_id"`
	Tick       int    `json:"tick"`
	ReportJSON string `json:"report_json"`
}

// Open creates a new Store at the given database path. ":memory:" opens
// an in-memory database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite serializes writers anyway; a single connection also keeps
	// ":memory:" databases from splitting across the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	store := &Store{db: db}
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

// Migrate creates the database schema if it doesn't exist.
func (s *Store) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		finished DATETIME,
		status TEXT NOT NULL DEFAULT 'running',
		config_json TEXT
	);

	CREATE TABLE IF NOT EXISTS samples (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		t REAL NOT NULL,
		sync_ratio REAL NOT NULL,
		order_param REAL NOT NULL,
		stability REAL,
		feedback REAL NOT NULL,
		PRIMARY KEY (run_id, tick),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS analyses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		report_json TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_samples_run ON samples(run_id);
	CREATE INDEX IF NOT EXISTS idx_analyses_run ON analyses(run_id, tick);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for custom queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateRun creates a new run record.
func (s *Store) CreateRun(id, configJSON string) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, started, status, config_json) VALUES (?, ?, 'running', ?)`,
		id, time.Now().UTC(), configJSON,
	)
	return err
}

// FinishRun marks a run as finished with the given status.
func (s *Store) FinishRun(id, status string) error {
	_, err := s.db.Exec(
		`UPDATE runs SET finished = ?, status = ? WHERE id = ?`,
		time.Now().UTC(), status, id,
	)
	return err
}

// RecordSample stores a single trajectory point. A NaN stability index is
// stored as NULL.
func (s *Store) RecordSample(sm *Sample) error {
	var stability any
	if !math.IsNaN(sm.Stability) {
		stability = sm.Stability
	}
	_, err := s.db.Exec(
		`INSERT INTO samples (run_id, tick, t, sync_ratio, order_param, stability, feedback)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sm.RunID, sm.Tick, sm.T, sm.SyncRatio, sm.OrderParam, stability, sm.Feedback,
	)
	return err
}

// RecordAnalysis stores one spectral analysis report.
func (s *Store) RecordAnalysis(runID string, tick int, reportJSON string) error {
	_, err := s.db.Exec(
		`INSERT INTO analyses (run_id, tick, report_json) VALUES (?, ?, ?)`,
		runID, tick, reportJSON,
	)
	return err
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT id, started, finished, status, config_json FROM runs WHERE id = ?`, id,
	)
	return scanRun(row.Scan)
}

// RecentRuns returns the most recently started runs.
func (s *Store) RecentRuns(limit int) ([]*Run, error) {
	rows, err := s.db.Query(
		`SELECT id, started, finished, status, config_json
		 FROM runs ORDER BY started DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(scan func(...any) error) (*Run, error) {
	var run Run
	var finished sql.NullTime
	var configJSON sql.NullString
	if err := scan(&run.ID, &run.Started, &finished, &run.Status, &configJSON); err != nil {
		return nil, err
	}
	if finished.Valid {
		run.Finished = &finished.Time
	}
	if configJSON.Valid {
		run.ConfigJSON = configJSON.String
	}
	return &run, nil
}

// GetSamples retrieves all trajectory points for a run in tick order.
func (s *Store) GetSamples(runID string) ([]*Sample, error) {
	rows, err := s.db.Query(
		`SELECT run_id, tick, t, sync_ratio, order_param, stability, feedback
		 FROM samples WHERE run_id = ? ORDER BY tick`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []*Sample
	for rows.Next() {
		var sm Sample
		var stability sql.NullFloat64
		err := rows.Scan(&sm.RunID, &sm.Tick, &sm.T, &sm.SyncRatio,
			&sm.OrderParam, &stability, &sm.Feedback)
		if err != nil {
			return nil, err
		}
		if stability.Valid {
			sm.Stability = stability.Float64
		} else {
			sm.Stability = math.NaN()
		}
		samples = append(samples, &sm)
	}
	return samples, rows.Err()
}

// GetAnalyses retrieves all spectral analyses for a run in tick order.
func (s *Store) GetAnalyses(runID string) ([]*Analysis, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, tick, report_json
		 FROM analyses WHERE run_id = ? ORDER BY tick`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var analyses []*Analysis
	for rows.Next() {
		var a Analysis
		if err := rows.Scan(&a.ID, &a.RunID, &a.Tick, &a.ReportJSON); err != nil {
			return nil, err
		}
		analyses = append(analyses, &a)
	}
	return analyses, rows.Err()
}

// ExportRunJSON exports a run, its samples and analyses as JSON.
func (s *Store) ExportRunJSON(runID string) ([]byte, error) {
	run, err := s.GetRun(runID)
	if err != nil {
		return nil, err
	}

	samples, err := s.GetSamples(runID)
	if err != nil {
		return nil, err
	}

	analyses, err := s.GetAnalyses(runID)
	if err != nil {
		return nil, err
	}

	export := map[string]any{
		"run":      run,
		"samples":  samples,
		"analyses": analyses,
	}

	return json.MarshalIndent(export, "", "  ")
}
