package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get for unknown run ids.
var ErrNotFound = errors.New("run not found")

// Run statuses
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Analysis statuses
const (
	AnalysisSkipped   = "skipped"
	AnalysisCompleted = "completed"
	AnalysisFailed    = "failed"
)

// DefaultListLimit is used by List when limit is not positive.
const DefaultListLimit = 20

// RunRecord is one catalog row.
type RunRecord struct {
	ID           string     `json:"id"`
	Prompt       string     `json:"prompt"`
	Status       string     `json:"status"`
	Strategy     string     `json:"strategy,omitempty"`
	Driver       string     `json:"driver,omitempty"`
	StartURL     string     `json:"start_url,omitempty"`
	HARPath      string     `json:"har_path"`
	MetadataPath string     `json:"metadata_path,omitempty"`
	ScriptsDir   string     `json:"scripts_dir,omitempty"`
	Entries      int        `json:"entries"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`

	AnalysisStatus string `json:"analysis_status,omitempty"`
	AnalysisOutput string `json:"analysis_output,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the run catalog.
type Store struct {
	db *sql.DB
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a run or replaces the capture fields of an existing one.
// Analysis fields are left alone; use SetAnalysis for those.
func (s *Store) Record(ctx context.Context, r RunRecord) error {
	if r.ID == "" {
		return errors.New("run id is required")
	}
	if r.Status == "" {
		r.Status = StatusCompleted
	}
	now := time.Now().UnixMilli()

	var ended sql.NullInt64
	if r.EndedAt != nil {
		ended = sql.NullInt64{Int64: r.EndedAt.UnixMilli(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, prompt, status, strategy, driver, start_url, har_path,
			metadata_path, scripts_dir, entries, error, started_at, ended_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			prompt = excluded.prompt,
			status = excluded.status,
			strategy = excluded.strategy,
			driver = excluded.driver,
			start_url = excluded.start_url,
			har_path = excluded.har_path,
			metadata_path = excluded.metadata_path,
			scripts_dir = excluded.scripts_dir,
			entries = excluded.entries,
			error = excluded.error,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			updated_at = excluded.updated_at`,
		r.ID, r.Prompt, r.Status, r.Strategy, r.Driver, r.StartURL, r.HARPath,
		r.MetadataPath, r.ScriptsDir, r.Entries, r.Error, r.StartedAt.UnixMilli(), ended, now, now)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", r.ID, err)
	}
	return nil
}

// SetAnalysis stores the outcome of the analysis hand-off for a run.
func (s *Store) SetAnalysis(ctx context.Context, id, status, output string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET analysis_status = ?, analysis_output = ?, updated_at = ? WHERE id = ?`,
		status, output, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const selectColumns = `id, prompt, status, strategy, driver, start_url, har_path, metadata_path,
	scripts_dir, entries, error, started_at, ended_at, analysis_status, analysis_output,
	created_at, updated_at`

// Get returns one run by id.
func (s *Store) Get(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return r, nil
}

// List returns the most recent runs first.
func (s *Store) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var (
		r                         RunRecord
		started, created, updated int64
		ended                     sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.Prompt, &r.Status, &r.Strategy, &r.Driver, &r.StartURL,
		&r.HARPath, &r.MetadataPath, &r.ScriptsDir, &r.Entries, &r.Error,
		&started, &ended, &r.AnalysisStatus, &r.AnalysisOutput, &created, &updated)
	if err != nil {
		return nil, err
	}
	r.StartedAt = time.UnixMilli(started)
	if ended.Valid {
		t := time.UnixMilli(ended.Int64)
		r.EndedAt = &t
	}
	r.CreatedAt = time.UnixMilli(created)
	r.UpdatedAt = time.UnixMilli(updated)
	return &r, nil
}
