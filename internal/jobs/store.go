package jobs

import (
	"context"
	"errors"

	"github.com/shipnotes/pkg/models"
)

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("job not found")

// ListFilter narrows a job listing. Nil fields match everything.
type ListFilter struct {
	Type   *models.JobType
	Status *models.JobStatus
}

// Store persists async jobs.
type Store interface {
	Create(ctx context.Context, job *models.AsyncJob) error
	Get(ctx context.Context, id string) (*models.AsyncJob, error)
	Update(ctx context.Context, job *models.AsyncJob) error
	// List returns matching jobs sorted newest-first.
	List(ctx context.Context, filter ListFilter) ([]*models.AsyncJob, error)
}
