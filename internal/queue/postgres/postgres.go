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

// Package postgres provides a queue.Store backend for distributed, multi-
// worker deployments.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tombee/orbital/internal/queue"
)

// Store is a PostgreSQL-backed queue.Store.
type Store struct {
	db *sql.DB
}

// Config configures the connection pool.
type Config struct {
	// ConnectionString is a postgres:// URL.
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// New opens the pool, pings it, and runs migrations.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("pgx", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("queue/postgres: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue/postgres: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS job (
			job_id TEXT PRIMARY KEY,
			task_name TEXT,
			action_name TEXT,
			input JSONB,
			queued TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			source_type TEXT NOT NULL,
			source_id TEXT,
			worker_id TEXT,
			picked TIMESTAMPTZ,
			start_datetime TIMESTAMPTZ,
			end_datetime TIMESTAMPTZ,
			output JSONB,
			success BOOLEAN
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_claimable ON job(status, worker_id, queued)`,
		`CREATE TABLE IF NOT EXISTS job_step (
			job_id TEXT NOT NULL REFERENCES job(job_id) ON DELETE CASCADE,
			step_name TEXT NOT NULL,
			start_datetime TIMESTAMPTZ,
			end_datetime TIMESTAMPTZ,
			input JSONB,
			output JSONB,
			success BOOLEAN,
			PRIMARY KEY (job_id, step_name)
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("queue/postgres: migrate: %w", err)
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
		VALUES ($1, $2, $3, $4, $5, 'queued', $6, $7)
	`, job.JobID, job.TaskName, job.ActionName, input, job.Queued, string(job.SourceType), job.SourceID)
	if err != nil {
		return "", fmt.Errorf("queue/postgres: enqueue: %w", err)
	}
	return job.JobID, nil
}

// Claim implements the spec's atomic-claim requirement with
// SELECT ... FOR UPDATE SKIP LOCKED followed by an UPDATE inside the same
// transaction, directly adapted from the teacher's DequeueJob.
func (s *Store) Claim(ctx context.Context, workerID string) (*queue.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("queue/postgres: begin: %w", err)
	}
	defer tx.Rollback()

	var jobID string
	err = tx.QueryRowContext(ctx, `
		SELECT job_id FROM job
		WHERE status = 'queued' AND worker_id IS NULL
		ORDER BY queued ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`).Scan(&jobID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue/postgres: claim select: %w", err)
	}

	picked := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE job SET status = 'running', worker_id = $1, picked = $2
		WHERE job_id = $3
	`, workerID, picked, jobID); err != nil {
		return nil, fmt.Errorf("queue/postgres: claim update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("queue/postgres: commit: %w", err)
	}

	return s.GetJob(ctx, jobID)
}

func (s *Store) UpdateStart(ctx context.Context, jobID, workerID string, start time.Time, input map[string]any) error {
	encoded, err := marshalNullable(input)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE job SET start_datetime = $1, input = $2
		WHERE job_id = $3 AND status = 'running' AND worker_id = $4
	`, start, encoded, jobID, workerID)
	if err != nil {
		return fmt.Errorf("queue/postgres: update start: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue/postgres: job %s is not running under worker %s", jobID, workerID)
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
		UPDATE job SET status = $1, start_datetime = $2, end_datetime = $3, output = $4, success = $5
		WHERE job_id = $6
	`, string(status), result.StartDatetime, result.EndDatetime, output, result.Success, jobID)
	if err != nil {
		return fmt.Errorf("queue/postgres: update result: %w", err)
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
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id, step_name) DO UPDATE SET start_datetime = EXCLUDED.start_datetime, input = EXCLUDED.input
	`, jobID, stepName, start, encoded)
	if err != nil {
		return fmt.Errorf("queue/postgres: update step start: %w", err)
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
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id, step_name) DO UPDATE SET end_datetime = EXCLUDED.end_datetime, output = EXCLUDED.output, success = EXCLUDED.success
	`, jobID, stepName, end, encoded, success)
	if err != nil {
		return fmt.Errorf("queue/postgres: update step result: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*queue.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, task_name, action_name, input, queued, status, source_type, source_id,
		       worker_id, picked, start_datetime, end_datetime, output, success
		FROM job WHERE job_id = $1
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
		FROM job ORDER BY queued DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("queue/postgres: list jobs: %w", err)
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
		FROM job_step WHERE job_id = $1 ORDER BY step_name ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("queue/postgres: get steps: %w", err)
	}
	defer rows.Close()

	var out []*queue.Step
	for rows.Next() {
		var step queue.Step
		var input, output []byte
		var success sql.NullBool
		var start, end sql.NullTime
		if err := rows.Scan(&step.JobID, &step.StepName, &start, &end, &input, &output, &success); err != nil {
			return nil, fmt.Errorf("queue/postgres: scan step: %w", err)
		}
		if start.Valid {
			step.StartDatetime = &start.Time
		}
		if end.Valid {
			step.EndDatetime = &end.Time
		}
		if len(input) > 0 {
			if err := json.Unmarshal(input, &step.Input); err != nil {
				return nil, fmt.Errorf("queue/postgres: decode step input: %w", err)
			}
		}
		if len(output) > 0 {
			if err := json.Unmarshal(output, &step.Output); err != nil {
				return nil, fmt.Errorf("queue/postgres: decode step output: %w", err)
			}
		}
		if success.Valid {
			b := success.Bool
			step.Success = &b
		}
		out = append(out, &step)
	}
	return out, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*queue.Job, error) {
	var job queue.Job
	var actionName, sourceID, workerID sql.NullString
	var input, output []byte
	var picked, start, end sql.NullTime
	var success sql.NullBool
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
	if len(input) > 0 {
		if err := json.Unmarshal(input, &job.Input); err != nil {
			return nil, fmt.Errorf("queue/postgres: decode job input: %w", err)
		}
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &job.Output); err != nil {
			return nil, fmt.Errorf("queue/postgres: decode job output: %w", err)
		}
	}
	if success.Valid {
		b := success.Bool
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
		return nil, fmt.Errorf("queue/postgres: marshal: %w", err)
	}
	return b, nil
}
