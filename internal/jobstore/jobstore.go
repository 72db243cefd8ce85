// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package jobstore durably records ProcessingJob rows and their state
// transitions in a single-file sqlite database, matching the column
// layout of the documents.db job table.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Job kinds recognized by the worker.
const (
	KindIngestNew          = "ingest_new"
	KindExtractIntoExisting = "extract_into_existing"
)

// Source descriptor kinds.
const (
	SourceLocalPath   = "local_path"
	SourceRemoteURL   = "remote_url"
	SourceInlineBytes = "inline_bytes"
)

// Status values. Transitions: pending -> processing -> {completed, failed};
// processing -> pending only via explicit Retry.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ProcessingJob is a durable unit of ingest work.
type ProcessingJob struct {
	ID                string
	JobType           string
	Status            string
	SourceType        string
	SourcePath         string
	OriginalFilename  string
	Title             string
	Tags              []string
	CategoryID        string
	Progress          int
	ErrorMessage      string
	ResultDocumentID  string
	ProcessingOptions map[string]any
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	Metadata          map[string]any
}

// JobSpec is the caller-supplied shape for Create.
type JobSpec struct {
	JobType           string
	SourceType        string
	SourcePath        string
	OriginalFilename  string
	Title             string
	Tags              []string
	CategoryID        string
	ProcessingOptions map[string]any
	Metadata          map[string]any
}

// Update is a partial merge applied by Update. Nil fields are left
// unmodified on the stored row.
type Update struct {
	Status           *string
	Progress         *int
	ErrorMessage     *string
	ResultDocumentID *string
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ClearStarted     bool
	ClearCompleted   bool
	ClearError       bool
	ClearResult      bool
	Metadata         map[string]any
}

// Filter narrows List results.
type Filter struct {
	Status string
}

// Pagination bounds a List call.
type Pagination struct {
	Limit  int
	Offset int
}

// Stats summarizes job counts and completion latency.
type Stats struct {
	CountByStatus      map[string]int
	MeanCompletionSecs float64
}

// Store is the sqlite-backed C1a job store. It is the serialization
// point for job mutation: the worker and request handlers both go
// through its operations rather than sharing a lock across a call.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the job store database at path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating jobstore directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening jobstore database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging jobstore database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating jobstore schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	job_type TEXT NOT NULL,
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	source_path TEXT,
	original_filename TEXT,
	title TEXT,
	tags TEXT,
	category_id TEXT,
	progress INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	result_document_id TEXT,
	processing_options TEXT,
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	completed_at DATETIME,
	metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);
`

// Create assigns a fresh id, sets status=pending, progress=0, created=now.
func (s *Store) Create(ctx context.Context, spec JobSpec) (*ProcessingJob, error) {
	job := &ProcessingJob{
		ID:                uuid.NewString(),
		JobType:           spec.JobType,
		Status:            StatusPending,
		SourceType:        spec.SourceType,
		SourcePath:        spec.SourcePath,
		OriginalFilename:  spec.OriginalFilename,
		Title:             spec.Title,
		Tags:              spec.Tags,
		CategoryID:        spec.CategoryID,
		Progress:          0,
		ProcessingOptions: spec.ProcessingOptions,
		CreatedAt:         time.Now().UTC(),
		Metadata:          spec.Metadata,
	}

	tagsJSON, err := marshalJSON(job.Tags)
	if err != nil {
		return nil, err
	}
	optsJSON, err := marshalJSON(job.ProcessingOptions)
	if err != nil {
		return nil, err
	}
	metaJSON, err := marshalJSON(job.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, job_type, status, source_type, source_path, original_filename,
			title, tags, category_id, progress, processing_options, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.JobType, job.Status, job.SourceType, job.SourcePath, job.OriginalFilename,
		job.Title, tagsJSON, job.CategoryID, job.Progress, optsJSON, job.CreatedAt, metaJSON)
	if err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	return job, nil
}

// Get returns a job by id, or nil if not found.
func (s *Store) Get(ctx context.Context, id string) (*ProcessingJob, error) {
	row := s.db.QueryRowContext(ctx, jobSelectSQL+" WHERE id = ?", id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", id, err)
	}
	return job, nil
}

// List returns jobs matching filter, newest-created first, paginated.
func (s *Store) List(ctx context.Context, filter Filter, page Pagination) ([]*ProcessingJob, error) {
	query := jobSelectSQL
	args := []any{}
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at DESC"
	if page.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, page.Limit, page.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*ProcessingJob
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// NextPending returns the oldest pending job by created timestamp, or
// nil if none. It does not itself mutate state.
func (s *Store) NextPending(ctx context.Context) (*ProcessingJob, error) {
	row := s.db.QueryRowContext(ctx, jobSelectSQL+" WHERE status = ? ORDER BY created_at ASC LIMIT 1", StatusPending)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching next pending job: %w", err)
	}
	return job, nil
}

// Update applies a partial merge to job id. Unspecified fields are
// preserved.
func (s *Store) Update(ctx context.Context, id string, u Update) (*ProcessingJob, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	if u.Status != nil {
		current.Status = *u.Status
	}
	if u.Progress != nil {
		current.Progress = *u.Progress
	}
	if u.ErrorMessage != nil {
		current.ErrorMessage = *u.ErrorMessage
	}
	if u.ClearError {
		current.ErrorMessage = ""
	}
	if u.ResultDocumentID != nil {
		current.ResultDocumentID = *u.ResultDocumentID
	}
	if u.ClearResult {
		current.ResultDocumentID = ""
	}
	if u.StartedAt != nil {
		current.StartedAt = u.StartedAt
	}
	if u.ClearStarted {
		current.StartedAt = nil
	}
	if u.CompletedAt != nil {
		current.CompletedAt = u.CompletedAt
	}
	if u.ClearCompleted {
		current.CompletedAt = nil
	}
	if u.Metadata != nil {
		current.Metadata = u.Metadata
	}

	// Contracts from spec.md 4.1: processing requires started; completed
	// and failed require a completed timestamp. Only these timestamps are
	// filled in here; a completed job without a result document or a
	// failed job without an error message is not rejected.
	if current.Status == StatusProcessing && current.StartedAt == nil {
		now := time.Now().UTC()
		current.StartedAt = &now
	}
	if current.Status == StatusCompleted && current.CompletedAt == nil {
		now := time.Now().UTC()
		current.CompletedAt = &now
	}
	if current.Status == StatusFailed && current.CompletedAt == nil {
		now := time.Now().UTC()
		current.CompletedAt = &now
	}

	metaJSON, err := marshalJSON(current.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, progress = ?, error_message = ?, result_document_id = ?,
			started_at = ?, completed_at = ?, metadata = ?
		WHERE id = ?`,
		current.Status, current.Progress, nullableString(current.ErrorMessage),
		nullableString(current.ResultDocumentID), current.StartedAt, current.CompletedAt,
		metaJSON, id)
	if err != nil {
		return nil, fmt.Errorf("updating job %s: %w", id, err)
	}

	return current, nil
}

// Retry resets a job to pending, progress 0, clearing timing and error
// fields. Document side effects from a prior run are not reverted.
func (s *Store) Retry(ctx context.Context, id string) (*ProcessingJob, error) {
	status := StatusPending
	zero := 0
	return s.Update(ctx, id, Update{
		Status:         &status,
		Progress:       &zero,
		ClearStarted:   true,
		ClearCompleted: true,
		ClearError:     true,
	})
}

// Cancel marks a job failed with a cancellation error. Per spec.md
// 4.2, a currently-executing job is not interrupted; this only has
// effect between stages or after the job has already finished.
func (s *Store) Cancel(ctx context.Context, id string) (*ProcessingJob, error) {
	status := StatusFailed
	msg := "Cancelled by user"
	return s.Update(ctx, id, Update{Status: &status, ErrorMessage: &msg})
}

// Delete permanently removes a job row.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Stats returns counts per status plus mean seconds between started and
// completed over completed jobs (jobs missing either timestamp are
// excluded).
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("counting jobs by status: %w", err)
	}
	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		counts[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var mean sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT AVG((julianday(completed_at) - julianday(started_at)) * 86400.0)
		FROM jobs
		WHERE status = ? AND started_at IS NOT NULL AND completed_at IS NOT NULL
	`, StatusCompleted).Scan(&mean)
	if err != nil {
		return nil, fmt.Errorf("computing mean completion time: %w", err)
	}

	return &Stats{CountByStatus: counts, MeanCompletionSecs: mean.Float64}, nil
}

const jobSelectSQL = `
SELECT id, job_type, status, source_type, source_path, original_filename, title, tags,
	category_id, progress, error_message, result_document_id, processing_options,
	created_at, started_at, completed_at, metadata
FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row *sql.Row) (*ProcessingJob, error) {
	return scanJobRows(row)
}

func scanJobRows(row rowScanner) (*ProcessingJob, error) {
	var j ProcessingJob
	var tagsJSON, optsJSON, metaJSON sql.NullString
	var errMsg, resultDoc, sourcePath, filename, title, categoryID sql.NullString
	var startedAt, completedAt sql.NullTime

	if err := row.Scan(&j.ID, &j.JobType, &j.Status, &j.SourceType, &sourcePath, &filename,
		&title, &tagsJSON, &categoryID, &j.Progress, &errMsg, &resultDoc, &optsJSON,
		&j.CreatedAt, &startedAt, &completedAt, &metaJSON); err != nil {
		return nil, err
	}

	j.SourcePath = sourcePath.String
	j.OriginalFilename = filename.String
	j.Title = title.String
	j.CategoryID = categoryID.String
	j.ErrorMessage = errMsg.String
	j.ResultDocumentID = resultDoc.String
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		json.Unmarshal([]byte(tagsJSON.String), &j.Tags)
	}
	if optsJSON.Valid && optsJSON.String != "" {
		json.Unmarshal([]byte(optsJSON.String), &j.ProcessingOptions)
	}
	if metaJSON.Valid && metaJSON.String != "" {
		json.Unmarshal([]byte(metaJSON.String), &j.Metadata)
	}

	return &j, nil
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling json: %w", err)
	}
	return string(b), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
