package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ErrRunNotFound is returned when no run matches the requested ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one invocation of the generation pipeline.
type Run struct {
	RunID      string
	CreatedAt  time.Time
	Checkpoint string
	ModelKind  string
	LatentDim  int
	Categories []string
	Mode       string
	BatchSize  int
	NumPoints  int
	Rounds     int
	Seed       uint64
	Device     string
	SaveDir    string

	Status     RunStatus
	Clouds     int
	OutputPath string
	Error      string
	FinishedAt *time.Time
}

const runColumns = `run_id, created_at, checkpoint, model_kind, latent_dim, categories, mode,
	batch_size, num_points, rounds, seed, device, save_dir, status, clouds, output_path, error, finished_at`

// StartRun inserts r in the running state. An empty RunID is filled with a
// fresh UUID and a zero CreatedAt with the current time.
func (db *DB) StartRun(r *Run) error {
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.Status = RunRunning

	_, err := db.Exec(`INSERT INTO generation_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		r.RunID, r.CreatedAt.UnixNano(), r.Checkpoint, r.ModelKind, r.LatentDim,
		strings.Join(r.Categories, ","), r.Mode, r.BatchSize, r.NumPoints, r.Rounds,
		int64(r.Seed), r.Device, r.SaveDir, string(r.Status), r.Clouds, r.OutputPath, r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.RunID, err)
	}
	return nil
}

// CompleteRun marks a running run as completed.
func (db *DB) CompleteRun(runID string, clouds int, outputPath string, at time.Time) error {
	return db.finishRun(runID, RunCompleted, clouds, outputPath, "", at)
}

// FailRun marks a running run as failed with the error text.
func (db *DB) FailRun(runID string, cause error, at time.Time) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return db.finishRun(runID, RunFailed, 0, "", msg, at)
}

func (db *DB) finishRun(runID string, status RunStatus, clouds int, outputPath, errText string, at time.Time) error {
	res, err := db.Exec(`UPDATE generation_runs
		SET status = ?, clouds = ?, output_path = ?, error = ?, finished_at = ?
		WHERE run_id = ? AND status = ?`,
		string(status), clouds, outputPath, errText, at.UnixNano(), runID, string(RunRunning))
	if err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// GetRun loads a single run by ID.
func (db *DB) GetRun(runID string) (*Run, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM generation_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get run %s: %w", runID, ErrRunNotFound)
	}
	return r, err
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM generation_runs ORDER BY created_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var (
		r          Run
		createdAt  int64
		categories string
		seed       int64
		status     string
		finishedAt sql.NullInt64
	)
	err := s.Scan(&r.RunID, &createdAt, &r.Checkpoint, &r.ModelKind, &r.LatentDim, &categories, &r.Mode,
		&r.BatchSize, &r.NumPoints, &r.Rounds, &seed, &r.Device, &r.SaveDir, &status, &r.Clouds,
		&r.OutputPath, &r.Error, &finishedAt)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(0, createdAt)
	if categories != "" {
		r.Categories = strings.Split(categories, ",")
	}
	r.Seed = uint64(seed)
	r.Status = RunStatus(status)
	if finishedAt.Valid {
		t := time.Unix(0, finishedAt.Int64)
		r.FinishedAt = &t
	}
	return &r, nil
}
