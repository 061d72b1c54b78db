package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var db *sql.DB

var ErrJobFileNotFound = errors.New("job file not found")

// initDB opens (or creates) the queue database. The DSN forces WAL mode and
// immediate transactions so that every BeginTx takes the write lock up
// front; the claim and failure transitions rely on that.
func initDB(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "queue.db")

	var err error
	db, err = sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'pending'
				CHECK(state IN ('pending','processing','completed','failed','dead')),
			attempts INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);

		CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		`
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func CloseDB() error {
	if db != nil {
		err := db.Close()
		db = nil
		return err
	}
	return nil
}

// EnqueueJob inserts a new pending job and returns its id. File submissions
// are copied into the managed jobs directory first and the command is
// synthesized from the extension. An id collision gets a short random
// suffix instead of overwriting the existing row.
func EnqueueJob(dataDir string, req *JobRequest) (string, error) {
	if req.ID == "" {
		return "", ErrMissingID
	}

	command := req.Command
	if req.FilePath != "" {
		var err error
		command, err = stageJobFile(dataDir, req.FilePath)
		if err != nil {
			return "", err
		}
	}
	if command == "" {
		return "", ErrMissingCommand
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = GetConfigInt(ConfigMaxRetries, DefaultMaxRetries)
	}

	tx, err := db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	jobID := req.ID
	var existing string
	err = tx.QueryRow("SELECT id FROM jobs WHERE id = ?", jobID).Scan(&existing)
	if err == nil {
		jobID = fmt.Sprintf("%s_%s", jobID, uuid.NewString()[:6])
	} else if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to check for existing job: %w", err)
	}

	now := formatTime(time.Now())
	_, err = tx.Exec(`
		INSERT INTO jobs (id, command, state, attempts, max_retries, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)`,
		jobID, command, string(StatePending), maxRetries, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit enqueue: %w", err)
	}
	return jobID, nil
}

// stageJobFile copies the referenced file into data/jobs and returns the
// command that runs it: python for .py, bash for .sh, cat otherwise.
func stageJobFile(dataDir, src string) (string, error) {
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("%w: %s", ErrJobFileNotFound, src)
	}
	dir := jobsDir(dataDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create jobs directory: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(src))
	if err := copyFile(src, dest); err != nil {
		return "", fmt.Errorf("failed to copy job file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(src)) {
	case ".py":
		return "python " + dest, nil
	case ".sh":
		return "bash " + dest, nil
	default:
		return "cat " + dest, nil
	}
}

// ClaimJob atomically claims the oldest pending job for processing. The
// select and the guarded update run inside one immediate transaction, so
// concurrent claimers never both win the same row; the loser sees zero rows
// affected and gets nil.
func ClaimJob() (*Job, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var jobID string
	err = tx.QueryRow(`
		SELECT id FROM jobs WHERE state = 'pending'
		ORDER BY created_at LIMIT 1`).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select pending job: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE jobs SET state = 'processing', updated_at = ?
		WHERE id = ? AND state = 'pending'`,
		formatTime(time.Now()), jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}

	job, err := scanJob(tx.QueryRow(selectJobColumns+" WHERE id = ?", jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return job, nil
}

// TransitionJob is the sole path into completed, failed, dead and (requeue)
// pending. A failed transition increments attempts and compares against
// max_retries inside the same transaction; exhausted retries land directly
// in dead. It returns the resulting state and the job's attempt count after
// the transition.
func TransitionJob(jobID string, target JobState) (JobState, int, error) {
	tx, err := db.Begin()
	if err != nil {
		return "", 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	var finalState JobState
	var attempts int

	switch target {
	case StateFailed:
		if _, err := tx.Exec(`
			UPDATE jobs SET attempts = attempts + 1, updated_at = ?
			WHERE id = ?`, now, jobID); err != nil {
			return "", 0, fmt.Errorf("failed to increment attempts: %w", err)
		}

		var maxRetries int
		err = tx.QueryRow("SELECT attempts, max_retries FROM jobs WHERE id = ?", jobID).
			Scan(&attempts, &maxRetries)
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, fmt.Errorf("job not found: %s", jobID)
		}
		if err != nil {
			return "", 0, fmt.Errorf("failed to read attempt count: %w", err)
		}

		finalState = StateFailed
		if attempts >= maxRetries {
			finalState = StateDead
		}
		if _, err := tx.Exec(`
			UPDATE jobs SET state = ?, updated_at = ?
			WHERE id = ?`, string(finalState), now, jobID); err != nil {
			return "", 0, fmt.Errorf("failed to update job state: %w", err)
		}

	case StateCompleted:
		if _, err := tx.Exec(`
			UPDATE jobs SET state = 'completed', updated_at = ?
			WHERE id = ?`, now, jobID); err != nil {
			return "", 0, fmt.Errorf("failed to update job state: %w", err)
		}
		finalState = StateCompleted

	case StatePending:
		// Requeue after backoff; only valid from failed.
		res, err := tx.Exec(`
			UPDATE jobs SET state = 'pending', updated_at = ?
			WHERE id = ? AND state = 'failed'`, now, jobID)
		if err != nil {
			return "", 0, fmt.Errorf("failed to requeue job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return "", 0, fmt.Errorf("job %s is not in failed state", jobID)
		}
		if err := tx.QueryRow("SELECT attempts FROM jobs WHERE id = ?", jobID).Scan(&attempts); err != nil {
			return "", 0, fmt.Errorf("failed to read attempt count: %w", err)
		}
		finalState = StatePending

	default:
		return "", 0, fmt.Errorf("invalid transition target: %s", target)
	}

	if err := tx.Commit(); err != nil {
		return "", 0, fmt.Errorf("failed to commit transition: %w", err)
	}
	return finalState, attempts, nil
}

// RetryDLQJob moves a dead job back to pending with attempts reset. It
// reports whether a row was actually moved; retrying a job that is not dead
// is a no-op.
func RetryDLQJob(jobID string) (bool, error) {
	res, err := db.Exec(`
		UPDATE jobs SET state = 'pending', attempts = 0, updated_at = ?
		WHERE id = ? AND state = 'dead'`,
		formatTime(time.Now()), jobID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to retry DLQ job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

const selectJobColumns = `SELECT id, command, state, attempts, max_retries, created_at, updated_at FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var state, createdAt, updatedAt string
	if err := row.Scan(&job.ID, &job.Command, &state, &job.Attempts, &job.MaxRetries, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	job.State = JobState(state)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	return &job, nil
}

func GetJobByID(jobID string) (*Job, error) {
	job, err := scanJob(db.QueryRow(selectJobColumns+" WHERE id = ?", jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func GetJobsByState(state JobState) ([]*Job, error) {
	return queryJobs(selectJobColumns+" WHERE state = ? ORDER BY created_at", string(state))
}

func GetAllJobs() ([]*Job, error) {
	return queryJobs(selectJobColumns + " ORDER BY created_at")
}

func GetDLQJobs() ([]*Job, error) {
	return GetJobsByState(StateDead)
}

func queryJobs(query string, args ...any) ([]*Job, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

// GetJobSummary returns per-state counts with every state present, zero
// counts included.
func GetJobSummary() (map[JobState]int, error) {
	summary := make(map[JobState]int, len(AllStates))
	for _, state := range AllStates {
		summary[state] = 0
	}

	rows, err := db.Query("SELECT state, COUNT(*) FROM jobs GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("failed to get job summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summary[JobState(state)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summary: %w", err)
	}
	return summary, nil
}

// ClearAllJobs deletes every job row. Idempotent.
func ClearAllJobs() error {
	if _, err := db.Exec("DELETE FROM jobs"); err != nil {
		return fmt.Errorf("failed to clear jobs: %w", err)
	}
	return nil
}
