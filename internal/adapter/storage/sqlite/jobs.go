package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/lapclock/internal/domain"
	"github.com/bnema/lapclock/internal/port"
)

const jobColumns = `id, status, mode, progress, error_message, error_kind, output_path, output_name,
	upload_id, input_path, created_at, started_at, finished_at`

const (
	insertJob = `INSERT INTO render_jobs (` + jobColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	updateJob = `UPDATE render_jobs SET
	status = ?, mode = ?, progress = ?, error_message = ?, error_kind = ?,
	output_path = ?, output_name = ?, started_at = ?, finished_at = ?
	WHERE id = ?`

	getJob        = `SELECT ` + jobColumns + ` FROM render_jobs WHERE id = ?`
	listJobs      = `SELECT ` + jobColumns + ` FROM render_jobs ORDER BY created_at DESC, id`
	deleteJob     = `DELETE FROM render_jobs WHERE id = ?`
	listJobsWhere = `SELECT ` + jobColumns + ` FROM render_jobs WHERE status IN (%s) ORDER BY created_at, id`
)

// JobStore persists render jobs in the render_jobs table.
type JobStore struct {
	db *sql.DB
}

func (s *JobStore) Create(job *domain.RenderJob) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, insertJob,
		job.ID, string(job.Status), string(job.Mode), job.Progress, job.ErrorMessage, string(job.ErrorKind),
		job.OutputPath, job.OutputName, job.UploadID, job.InputPath, job.CreatedAt, job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobStore) Update(job *domain.RenderJob) error {
	ctx := context.Background()
	res, err := s.db.ExecContext(ctx, updateJob,
		string(job.Status), string(job.Mode), job.Progress, job.ErrorMessage, string(job.ErrorKind),
		job.OutputPath, job.OutputName, job.StartedAt, job.FinishedAt, job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *JobStore) Get(id string) (*domain.RenderJob, error) {
	ctx := context.Background()
	job, err := scanJob(s.db.QueryRowContext(ctx, getJob, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *JobStore) List() ([]*domain.RenderJob, error) {
	return s.query(listJobs)
}

func (s *JobStore) ListByStatus(statuses ...domain.JobStatus) ([]*domain.RenderJob, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return s.query(fmt.Sprintf(listJobsWhere, placeholders), args...)
}

func (s *JobStore) Delete(id string) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, deleteJob, id)
	return err
}

func (s *JobStore) query(q string, args ...any) ([]*domain.RenderJob, error) {
	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.RenderJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.RenderJob, error) {
	var (
		job                     domain.RenderJob
		status, mode, errorKind string
	)
	err := row.Scan(
		&job.ID, &status, &mode, &job.Progress, &job.ErrorMessage, &errorKind,
		&job.OutputPath, &job.OutputName, &job.UploadID, &job.InputPath,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.Mode = domain.RenderMode(mode)
	job.ErrorKind = domain.ErrorKind(errorKind)
	return &job, nil
}

var _ port.JobStore = (*JobStore)(nil)
