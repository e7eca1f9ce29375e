package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// RunKind identifies what a run tracked.
type RunKind string

const (
	// RunKindHands is a hand tracking run.
	RunKindHands RunKind = "hands"
	// RunKindBody is a body tracking run.
	RunKindBody RunKind = "body"
	// RunKindAnalysis is an analysis of previously written masks.
	RunKindAnalysis RunKind = "analysis"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusStopped   RunStatus = "stopped"
)

// Run represents one pipeline run stored in the database.
type Run struct {
	ID             string
	Kind           RunKind
	FramesDir      string
	OutputDir      string
	StartFrame     int
	FrameCount     int
	Status         RunStatus
	RatioThreshold float64
	Targets        []int
	Error          string
	FailedFrame    *int
	CreatedAt      time.Time
	FinishedAt     *time.Time
}

// RunRepository provides CRUD operations for runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

const runColumns = `id, kind, frames_dir, output_dir, start_frame, frame_count, status,
	ratio_threshold, targets, error, failed_frame, created_at, finished_at`

// Create inserts a new run into the database.
func (r *RunRepository) Create(run *Run) error {
	run.CreatedAt = time.Now()
	if run.Status == "" {
		run.Status = RunStatusRunning
	}

	targets, err := json.Marshal(nonNilInts(run.Targets))
	if err != nil {
		return err
	}

	_, err = r.db.Exec(
		`INSERT INTO runs (id, kind, frames_dir, output_dir, start_frame, frame_count, status,
			ratio_threshold, targets, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.FramesDir, run.OutputDir, run.StartFrame, run.FrameCount,
		string(run.Status), run.RatioThreshold, string(targets), run.CreatedAt,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var kind, status, targets string
	var failed sql.NullInt64
	var finished sql.NullTime

	err := row.Scan(&run.ID, &kind, &run.FramesDir, &run.OutputDir, &run.StartFrame, &run.FrameCount,
		&status, &run.RatioThreshold, &targets, &run.Error, &failed, &run.CreatedAt, &finished)
	if err != nil {
		return nil, err
	}

	run.Kind = RunKind(kind)
	run.Status = RunStatus(status)
	if err := json.Unmarshal([]byte(targets), &run.Targets); err != nil {
		return nil, err
	}
	if failed.Valid {
		f := int(failed.Int64)
		run.FailedFrame = &f
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

// List retrieves all runs, newest first.
func (r *RunRepository) List() ([]*Run, error) {
	rows, err := r.db.Query(`SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// Finish records the final status of a run. failedFrame may be nil.
func (r *RunRepository) Finish(id string, status RunStatus, errMsg string, failedFrame *int) error {
	var failed sql.NullInt64
	if failedFrame != nil {
		failed = sql.NullInt64{Int64: int64(*failedFrame), Valid: true}
	}

	result, err := r.db.Exec(
		`UPDATE runs SET status = ?, error = ?, failed_frame = ?, finished_at = ? WHERE id = ?`,
		string(status), errMsg, failed, time.Now(), id,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes a run and its statistics.
func (r *RunRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}
