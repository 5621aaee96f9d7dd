package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cip-pipeline/internal/model"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when a job or report does not exist.
var ErrNotFound = errors.New("not found")

var db *sql.DB

// Initialize DB connection
func InitDB(dbPath string) error {
	var err error
	db, err = sql.Open("sqlite3", dbPath)
	if err != nil {
		return err
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	// Create tables if not exists
	schema := []string{`
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		spec TEXT,
		status TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);`, `
	CREATE TABLE IF NOT EXISTS job_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT,
		stage TEXT,
		error_message TEXT,
		created_at DATETIME
	);`, `
	CREATE TABLE IF NOT EXISTS stage_progress (
		job_id TEXT,
		stage TEXT,
		status TEXT,
		start_time DATETIME,
		end_time DATETIME,
		duration_ns INTEGER,
		records_in INTEGER,
		records_out INTEGER,
		PRIMARY KEY (job_id, stage)
	);`, `
	CREATE TABLE IF NOT EXISTS reports (
		job_id TEXT PRIMARY KEY,
		body BLOB,
		created_at DATETIME
	);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	return nil
}

// Close releases the database handle.
func Close() error {
	if db == nil {
		return nil
	}
	return db.Close()
}

// SaveJob stores a new pipeline job
func SaveJob(jobID string, spec model.PipelineJobSpec) error {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = db.Exec(`INSERT INTO jobs (id, spec, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		jobID, string(specJSON), model.StatusPending, now, now)
	return err
}

// SaveJobError records an error for a job
func SaveJobError(jobID, stage string, err error) error {
	if err == nil {
		return nil
	}
	now := time.Now().UTC()
	_, e := db.Exec(`INSERT INTO job_errors (job_id, stage, error_message, created_at) VALUES (?, ?, ?, ?)`,
		jobID, stage, err.Error(), now)
	return e
}

// GetJobErrors returns the errors recorded for a job, oldest first.
func GetJobErrors(jobID string) ([]model.ErrorDetail, error) {
	rows, err := db.Query(`SELECT id, stage, error_message, created_at FROM job_errors WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	errs := []model.ErrorDetail{}
	for rows.Next() {
		var d model.ErrorDetail
		if err := rows.Scan(&d.ID, &d.Stage, &d.Message, &d.Timestamp); err != nil {
			return nil, err
		}
		errs = append(errs, d)
	}
	return errs, rows.Err()
}

// ListJobs returns all jobs, newest first
func ListJobs() ([]model.Job, error) {
	rows, err := db.Query(`SELECT id, spec, status, created_at, updated_at FROM jobs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []model.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// GetJob fetches full job spec and status
func GetJob(jobID string) (*model.Job, error) {
	row := db.QueryRow(`SELECT id, spec, status, created_at, updated_at FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*model.Job, error) {
	var job model.Job
	var specJSON string
	if err := s.Scan(&job.ID, &specJSON, &job.Status, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(specJSON), &job.Spec); err != nil {
		return nil, fmt.Errorf("decode spec of job %s: %w", job.ID, err)
	}
	return &job, nil
}

// UpdateJobStatus updates job status
func UpdateJobStatus(jobID string, status string) error {
	now := time.Now().UTC()
	res, err := db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`, status, now, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveStageProgress upserts the progress of one stage of a job.
func SaveStageProgress(jobID string, m model.StageMetrics) error {
	var end interface{}
	if !m.EndTime.IsZero() {
		end = m.EndTime.UTC()
	}
	_, err := db.Exec(`
	INSERT INTO stage_progress (job_id, stage, status, start_time, end_time, duration_ns, records_in, records_out)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (job_id, stage) DO UPDATE SET
		status = excluded.status,
		start_time = excluded.start_time,
		end_time = excluded.end_time,
		duration_ns = excluded.duration_ns,
		records_in = excluded.records_in,
		records_out = excluded.records_out`,
		jobID, m.Stage, m.Status, m.StartTime.UTC(), end, int64(m.Duration), m.RecordsIn, m.RecordsOut)
	return err
}

// GetStageProgress returns the stages recorded for a job in start order.
func GetStageProgress(jobID string) ([]model.StageMetrics, error) {
	rows, err := db.Query(`
	SELECT stage, status, start_time, end_time, duration_ns, records_in, records_out
	FROM stage_progress WHERE job_id = ? ORDER BY start_time, rowid`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stages := []model.StageMetrics{}
	for rows.Next() {
		var m model.StageMetrics
		var end sql.NullTime
		var duration int64
		if err := rows.Scan(&m.Stage, &m.Status, &m.StartTime, &end, &duration, &m.RecordsIn, &m.RecordsOut); err != nil {
			return nil, err
		}
		if end.Valid {
			m.EndTime = end.Time
		}
		m.Duration = time.Duration(duration)
		stages = append(stages, m)
	}
	return stages, rows.Err()
}

// SaveReport stores the msgpack snapshot of a job's report, replacing any
// earlier one.
func SaveReport(jobID string, report *model.Report) error {
	body, err := msgpack.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = db.Exec(`INSERT OR REPLACE INTO reports (job_id, body, created_at) VALUES (?, ?, ?)`,
		jobID, body, time.Now().UTC())
	return err
}

// GetReport loads the report snapshot of a job.
func GetReport(jobID string) (*model.Report, error) {
	var body []byte
	err := db.QueryRow(`SELECT body FROM reports WHERE job_id = ?`, jobID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var report model.Report
	if err := msgpack.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}

// ResetJob clears the errors, progress and report of a job before it reruns.
func ResetJob(jobID string) error {
	for _, stmt := range []string{
		`DELETE FROM job_errors WHERE job_id = ?`,
		`DELETE FROM stage_progress WHERE job_id = ?`,
		`DELETE FROM reports WHERE job_id = ?`,
	} {
		if _, err := db.Exec(stmt, jobID); err != nil {
			return err
		}
	}
	return UpdateJobStatus(jobID, model.StatusPending)
}
