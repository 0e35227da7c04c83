package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/shipnotes/pkg/models"
)

// PostgresStore persists jobs in the async_jobs table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, job *models.AsyncJob) error {
	query := `
		INSERT INTO async_jobs (id, type, status, progress, params, result, error, callback_url, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID, string(job.Type), string(job.Status), job.Progress,
		rawOrNull(job.Params), rawOrNull(job.Result),
		job.Error, job.CallbackURL,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.AsyncJob, error) {
	query := `
		SELECT id, type, status, progress, params, result, error, callback_url, created_at, updated_at, completed_at
		FROM async_jobs
		WHERE id = $1
	`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) Update(ctx context.Context, job *models.AsyncJob) error {
	query := `
		UPDATE async_jobs
		SET status = $2, progress = $3, result = $4, error = $5, updated_at = $6, completed_at = $7
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query,
		job.ID, string(job.Status), job.Progress,
		rawOrNull(job.Result), job.Error,
		job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*models.AsyncJob, error) {
	query := `
		SELECT id, type, status, progress, params, result, error, callback_url, created_at, updated_at, completed_at
		FROM async_jobs
		WHERE ($1::text IS NULL OR type = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
	`

	var typeArg, statusArg *string
	if filter.Type != nil {
		t := string(*filter.Type)
		typeArg = &t
	}
	if filter.Status != nil {
		st := string(*filter.Status)
		statusArg = &st
	}

	rows, err := s.db.QueryContext(ctx, query, typeArg, statusArg)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var result []*models.AsyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.AsyncJob, error) {
	var job models.AsyncJob
	var jobType, status string
	var params, result []byte

	err := row.Scan(&job.ID, &jobType, &status, &job.Progress,
		&params, &result, &job.Error, &job.CallbackURL,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}

	job.Type = models.JobType(jobType)
	job.Status = models.JobStatus(status)
	if len(params) > 0 {
		job.Params = json.RawMessage(params)
	}
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	return &job, nil
}

// rawOrNull maps an empty payload to SQL NULL instead of an invalid
// empty jsonb value.
func rawOrNull(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
