package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/shipnotes/pkg/models"
)

// HandlerFunc executes one job and returns its result payload.
type HandlerFunc func(ctx context.Context, job *models.AsyncJob) (json.RawMessage, error)

// Dispatcher routes jobs to their type's handler and commits the
// outcome through the tracker.
type Dispatcher struct {
	tracker  *Tracker
	handlers map[models.JobType]HandlerFunc
}

func NewDispatcher(tracker *Tracker) *Dispatcher {
	return &Dispatcher{
		tracker:  tracker,
		handlers: make(map[models.JobType]HandlerFunc),
	}
}

// Register binds a handler to a job type.
func (d *Dispatcher) Register(jobType models.JobType, handler HandlerFunc) {
	d.handlers[jobType] = handler
}

// Tracker exposes the underlying tracker so handlers can report
// intermediate progress.
func (d *Dispatcher) Tracker() *Tracker {
	return d.tracker
}

// Run executes the job by id. Terminal jobs are skipped so duplicate
// deliveries stay harmless. A cancelled job is never transitioned to
// completed or failed: the handler result is discarded.
func (d *Dispatcher) Run(ctx context.Context, jobID string) error {
	job, err := d.tracker.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		log.Printf("[DEBUG] Skipping terminal job %s (status=%s)", job.ID, job.Status)
		return nil
	}

	handler, ok := d.handlers[job.Type]
	if !ok {
		err := fmt.Errorf("no handler registered for job type %s", job.Type)
		if _, failErr := d.tracker.Fail(ctx, job.ID, err); failErr != nil {
			return failErr
		}
		return err
	}

	processing := models.JobStatusProcessing
	if _, err := d.tracker.Apply(ctx, job.ID, Update{Status: &processing}); err != nil {
		return err
	}

	result, handlerErr := handler(ctx, job)

	// Re-check status before committing: the job may have been
	// cancelled while the handler ran.
	current, err := d.tracker.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	if current.Status == models.JobStatusCancelled {
		log.Printf("[DEBUG] Job %s cancelled during execution, discarding result", job.ID)
		return nil
	}

	if handlerErr != nil {
		if _, err := d.tracker.Fail(ctx, job.ID, handlerErr); err != nil {
			return err
		}
		return handlerErr
	}

	_, err = d.tracker.Complete(ctx, job.ID, result)
	return err
}
