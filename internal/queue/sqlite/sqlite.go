// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite provides an embedded queue.Store backend for single-node
// deployments, using modernc.org/sqlite (cgo-free).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tombee/orbital/internal/queue"
)

// Store is a SQLite-backed queue.Store. SQLite serializes all writes, so
// the pool is pinned to a single connection.
type Store struct {
	db *sql.DB
}

// Config configures the SQLite store.
type Config struct {
	// Path is the database file path, or ":memory:" for an ephemeral store.
	Path string

	// WAL enables Write-Ahead Logging for concurrent readers.
	WAL bool
}

// New opens path, applies pragmas, and runs migrations.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("queue/sqlite: open %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue/sqlite: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, wal bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if wal {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("queue/sqlite: %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS job (
			job_id TEXT PRIMARY KEY,
			task_name TEXT,
			action_name TEXT,
			input TEXT,
			queued TIMESTAMP NOT NULL,
			status TEXT NOT NULL,
			source_type TEXT NOT NULL,
			source_id TEXT,
			worker_id TEXT,
			picked TIMESTAMP,
			start_datetime TIMESTAMP,
			end_datetime TIMESTAMP,
			output TEXT,
			success INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_claimable ON job(status, worker_id, queued)`,
		`CREATE TABLE IF NOT EXISTS job_step (
			job_id TEXT NOT NULL REFERENCES job(job_id) ON DELETE CASCADE,
			step_name TEXT NOT NULL,
			start_datetime TIMESTAMP,
			end_datetime TIMESTAMP,
			input TEXT,
			output TEXT,
			success INTEGER,
			PRIMARY KEY (job_id, step_name)
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("queue/sqlite: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Enqueue(ctx context.Context, job *queue.Job) (string, error) {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.Queued.IsZero() {
		job.Queued = time.Now().UTC()
	}

	input, err := marshalNullable(job.Input)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job (job_id, task_name, action_name, input, queued, status, source_type, source_id)
		VALUES (?, ?, ?, ?, ?, 'queued', ?, ?)
	`, job.JobID, job.TaskName, job.ActionName, input, job.Queued, string(job.SourceType), job.SourceID)
	if err != nil {
		return "", fmt.Errorf("queue/sqlite: enqueue: %w", err)
	}
	return job.JobID, nil
}

// Claim uses SQLite's single-writer transaction (BEGIN IMMEDIATE) in place
// of SELECT ... FOR UPDATE SKIP LOCKED: a SELECT picks exactly one candidate
// row and a guarded UPDATE then assigns it, and no other connection can start
// a write transaction until this one commits or rolls back, giving the same
// single-claim guarantee as the Postgres backend's row lock. The claim is
// these two statements inside one transaction, not a single statement.
func (s *Store) Claim(ctx context.Context, workerID string) (*queue.Job, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue/sqlite: conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, fmt.Errorf("queue/sqlite: begin immediate: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	var jobID string
	err = conn.QueryRowContext(ctx, `
		SELECT job_id FROM job
		WHERE status = 'queued' AND worker_id IS NULL
		ORDER BY queued ASC
		LIMIT 1
	`).Scan(&jobID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue/sqlite: claim select: %w", err)
	}

	picked := time.Now().UTC()
	res, err := conn.ExecContext(ctx, `
		UPDATE job SET status = 'running', worker_id = ?, picked = ?
		WHERE job_id = ? AND status = 'queued' AND worker_id IS NULL
	`, workerID, picked, jobID)
	if err != nil {
		return nil, fmt.Errorf("queue/sqlite: claim update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race within this same transaction (shouldn't happen
		// under BEGIN IMMEDIATE, but fail closed rather than return a
		// half-claimed job).
		return nil, nil
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, fmt.Errorf("queue/sqlite: commit: %w", err)
	}
	committed = true

	return s.GetJob(ctx, jobID)
}

func (s *Store) UpdateStart(ctx context.Context, jobID, workerID string, start time.Time, input map[string]any) error {
	encoded, err := marshalNullable(input)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE job SET start_datetime = ?, input = ?
		WHERE job_id = ? AND status = 'running' AND worker_id = ?
	`, start, encoded, jobID, workerID)
	if err != nil {
		return fmt.Errorf("queue/sqlite: update start: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue/sqlite: job %s is not running under worker %s", jobID, workerID)
	}
	return nil
}

func (s *Store) UpdateResult(ctx context.Context, jobID string, result queue.Result) error {
	output, err := marshalNullable(result.Output)
	if err != nil {
		return err
	}
	status := queue.StatusFailed
	if result.Success {
		status = queue.StatusCompleted
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE job SET status = ?, start_datetime = ?, end_datetime = ?, output = ?, success = ?
		WHERE job_id = ?
	`, string(status), result.StartDatetime, result.EndDatetime, output, boolToInt(result.Success), jobID)
	if err != nil {
		return fmt.Errorf("queue/sqlite: update result: %w", err)
	}
	return nil
}

func (s *Store) UpdateStepStart(ctx context.Context, jobID, stepName string, start time.Time, input map[string]any) error {
	encoded, err := marshalNullable(input)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_step (job_id, step_name, start_datetime, input)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (job_id, step_name) DO UPDATE SET start_datetime = excluded.start_datetime, input = excluded.input
	`, jobID, stepName, start, encoded)
	if err != nil {
		return fmt.Errorf("queue/sqlite: update step start: %w", err)
	}
	return nil
}

func (s *Store) UpdateStepResult(ctx context.Context, jobID, stepName string, end time.Time, output map[string]any, success bool) error {
	encoded, err := marshalNullable(output)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_step (job_id, step_name, end_datetime, output, success)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (job_id, step_name) DO UPDATE SET end_datetime = excluded.end_datetime, output = excluded.output, success = excluded.success
	`, jobID, stepName, end, encoded, boolToInt(success))
	if err != nil {
		return fmt.Errorf("queue/sqlite: update step result: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*queue.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, task_name, action_name, input, queued, status, source_type, source_id,
		       worker_id, picked, start_datetime, end_datetime, output, success
		FROM job WHERE job_id = ?
	`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (s *Store) ListJobs(ctx context.Context, limit, offset int) ([]*queue.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, task_name, action_name, input, queued, status, source_type, source_id,
		       worker_id, picked, start_datetime, end_datetime, output, success
		FROM job ORDER BY queued DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("queue/sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	var out []*queue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Store) GetSteps(ctx context.Context, jobID string) ([]*queue.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, step_name, start_datetime, end_datetime, input, output, success
		FROM job_step WHERE job_id = ? ORDER BY step_name ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("queue/sqlite: get steps: %w", err)
	}
	defer rows.Close()

	var out []*queue.Step
	for rows.Next() {
		var step queue.Step
		var input, output sql.NullString
		var success sql.NullInt64
		var start, end sql.NullTime
		if err := rows.Scan(&step.JobID, &step.StepName, &start, &end, &input, &output, &success); err != nil {
			return nil, fmt.Errorf("queue/sqlite: scan step: %w", err)
		}
		if start.Valid {
			step.StartDatetime = &start.Time
		}
		if end.Valid {
			step.EndDatetime = &end.Time
		}
		if input.Valid {
			if err := json.Unmarshal([]byte(input.String), &step.Input); err != nil {
				return nil, fmt.Errorf("queue/sqlite: decode step input: %w", err)
			}
		}
		if output.Valid {
			if err := json.Unmarshal([]byte(output.String), &step.Output); err != nil {
				return nil, fmt.Errorf("queue/sqlite: decode step output: %w", err)
			}
		}
		if success.Valid {
			b := success.Int64 != 0
			step.Success = &b
		}
		out = append(out, &step)
	}
	return out, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*queue.Job, error) {
	var job queue.Job
	var actionName, sourceID, workerID sql.NullString
	var input, output sql.NullString
	var picked, start, end sql.NullTime
	var success sql.NullInt64
	var status, sourceType string

	err := row.Scan(&job.JobID, &job.TaskName, &actionName, &input, &job.Queued, &status, &sourceType,
		&sourceID, &workerID, &picked, &start, &end, &output, &success)
	if err != nil {
		return nil, err
	}

	job.ActionName = actionName.String
	job.SourceID = sourceID.String
	job.WorkerID = workerID.String
	job.Status = queue.Status(status)
	job.SourceType = queue.SourceType(sourceType)

	if picked.Valid {
		job.Picked = &picked.Time
	}
	if start.Valid {
		job.StartDatetime = &start.Time
	}
	if end.Valid {
		job.EndDatetime = &end.Time
	}
	if input.Valid {
		if err := json.Unmarshal([]byte(input.String), &job.Input); err != nil {
			return nil, fmt.Errorf("queue/sqlite: decode job input: %w", err)
		}
	}
	if output.Valid {
		if err := json.Unmarshal([]byte(output.String), &job.Output); err != nil {
			return nil, fmt.Errorf("queue/sqlite: decode job output: %w", err)
		}
	}
	if success.Valid {
		b := success.Int64 != 0
		job.Success = &b
	}
	return &job, nil
}

func marshalNullable(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("queue/sqlite: marshal: %w", err)
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
