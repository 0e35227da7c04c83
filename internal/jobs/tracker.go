package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/shipnotes/pkg/models"
)

// Update is a partial change to a job. Nil fields are left untouched.
type Update struct {
	Status   *models.JobStatus
	Progress *int
	Result   json.RawMessage
	Error    *string
}

// Tracker owns the async-job lifecycle: creation, monotonic progress,
// terminal transitions, and the completion webhook.
type Tracker struct {
	store    Store
	notifier *Notifier
}

func NewTracker(store Store, notifier *Notifier) *Tracker {
	return &Tracker{store: store, notifier: notifier}
}

// Create registers a new queued job.
func (t *Tracker) Create(ctx context.Context, jobType models.JobType, params json.RawMessage, callbackURL *string) (*models.AsyncJob, error) {
	if !models.KnownJobType(jobType) {
		return nil, fmt.Errorf("unknown job type: %s", jobType)
	}

	now := time.Now()
	job := &models.AsyncJob{
		ID:          uuid.New().String(),
		Type:        jobType,
		Status:      models.JobStatusQueued,
		Progress:    0,
		Params:      params,
		CallbackURL: callbackURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := t.store.Create(ctx, job); err != nil {
		return nil, err
	}

	log.Printf("[DEBUG] Created job %s type=%s", job.ID, job.Type)
	return job, nil
}

// Get returns the job by id.
func (t *Tracker) Get(ctx context.Context, id string) (*models.AsyncJob, error) {
	return t.store.Get(ctx, id)
}

// List returns jobs newest-first, optionally filtered.
func (t *Tracker) List(ctx context.Context, filter ListFilter) ([]*models.AsyncJob, error) {
	return t.store.List(ctx, filter)
}

// Apply applies a partial update. Updates to a job already in a
// terminal status are silently ignored so duplicate completion signals
// from concurrent paths stay harmless. Progress never decreases.
func (t *Tracker) Apply(ctx context.Context, id string, update Update) (*models.AsyncJob, error) {
	if update.Result != nil && update.Error != nil {
		return nil, errors.New("job update cannot carry both a result and an error")
	}

	job, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if job.Status.IsTerminal() {
		log.Printf("[DEBUG] Ignoring update to terminal job %s (status=%s)", job.ID, job.Status)
		return job, nil
	}

	if update.Progress != nil && *update.Progress > job.Progress {
		progress := *update.Progress
		if progress > 100 {
			progress = 100
		}
		job.Progress = progress
	}

	becameTerminal := false
	if update.Status != nil && *update.Status != job.Status {
		job.Status = *update.Status
		if job.Status.IsTerminal() {
			becameTerminal = true
			now := time.Now()
			job.CompletedAt = &now
		}
	}

	// Result and error only attach on the transition that ends the job.
	if update.Result != nil && becameTerminal && job.Status == models.JobStatusCompleted {
		job.Result = update.Result
	}
	if update.Error != nil && becameTerminal && job.Status == models.JobStatusFailed {
		msg := models.TruncateError(*update.Error)
		job.Error = &msg
	}
	job.UpdatedAt = time.Now()

	if err := t.store.Update(ctx, job); err != nil {
		return nil, err
	}

	if becameTerminal && (job.Status == models.JobStatusCompleted || job.Status == models.JobStatusFailed) {
		t.notify(job)
	}

	return job, nil
}

// Complete marks the job completed with a result payload.
func (t *Tracker) Complete(ctx context.Context, id string, result json.RawMessage) (*models.AsyncJob, error) {
	status := models.JobStatusCompleted
	progress := 100
	return t.Apply(ctx, id, Update{Status: &status, Progress: &progress, Result: result})
}

// Fail marks the job failed with a bounded error message.
func (t *Tracker) Fail(ctx context.Context, id string, cause error) (*models.AsyncJob, error) {
	status := models.JobStatusFailed
	msg := cause.Error()
	return t.Apply(ctx, id, Update{Status: &status, Error: &msg})
}

// Cancel cancels a queued or processing job. Cancelling a terminal job
// is a no-op. Cancellation is cooperative: running handlers observe it
// on their next status check.
func (t *Tracker) Cancel(ctx context.Context, id string) (*models.AsyncJob, error) {
	status := models.JobStatusCancelled
	return t.Apply(ctx, id, Update{Status: &status})
}

func (t *Tracker) notify(job *models.AsyncJob) {
	if t.notifier == nil || job.CallbackURL == nil || *job.CallbackURL == "" {
		return
	}
	// Best effort, at most once. Failures are logged and never retried.
	if err := t.notifier.Notify(job); err != nil {
		log.Printf("[DEBUG] Webhook delivery for job %s failed: %v", job.ID, err)
	}
}
