package render

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shipnotes/internal/logging"
	"github.com/shipnotes/pkg/models"
)

// Store persists render attempts and the artifact fields of the
// owning record. The orchestrator is the only writer of these fields.
type Store interface {
	SaveRenderState(ctx context.Context, state *models.RenderState) error
	// ActiveRender returns the record's non-terminal render attempt,
	// or nil when there is none.
	ActiveRender(ctx context.Context, recordID int64) (*models.RenderState, error)
	ArtifactURL(ctx context.Context, recordID int64) (string, error)
	SetArtifactURL(ctx context.Context, recordID int64, artifactURL string) error
}

// Options controls artifact reuse for a render request.
type Options struct {
	ReuseExisting bool
	Force         bool
}

// Orchestrator drives the remote render backend: trigger, bounded
// polling, and persistence of the outcome.
type Orchestrator struct {
	backend      Backend
	store        Store
	pollAttempts int
	pollInterval time.Duration
}

func NewOrchestrator(backend Backend, store Store, pollAttempts int, pollInterval time.Duration) *Orchestrator {
	if pollAttempts <= 0 {
		pollAttempts = 60
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Orchestrator{
		backend:      backend,
		store:        store,
		pollAttempts: pollAttempts,
		pollInterval: pollInterval,
	}
}

// StartRender begins a render for the record. When reuse is allowed and
// a prior artifact exists, it short-circuits with that artifact and the
// backend is never contacted. The returned bool reports reuse.
func (o *Orchestrator) StartRender(ctx context.Context, record *models.GenerationRecord, narrative *models.VideoNarrative, opts Options) (*models.RenderState, bool, error) {
	if opts.ReuseExisting && !opts.Force {
		existing, err := o.store.ArtifactURL(ctx, record.ID)
		if err != nil {
			return nil, false, err
		}
		if existing != "" {
			log.Debug().
				Int64("record_id", record.ID).
				Str("artifact_url", existing).
				Msg("Reusing existing artifact, skipping render")
			state := &models.RenderState{
				RecordID:    record.ID,
				LocationRef: existing,
				Status:      models.RenderStatusSucceeded,
				Progress:    100,
				CreatedAt:   time.Now(),
				UpdatedAt:   time.Now(),
			}
			return state, true, nil
		}
	}

	active, err := o.store.ActiveRender(ctx, record.ID)
	if err != nil {
		return nil, false, err
	}
	if active != nil {
		return nil, false, ErrRenderInProgress
	}

	result, err := o.backend.Trigger(ctx, narrative, RenderMetadata{
		RecordID:   record.ID,
		Repository: record.Repository,
	})
	if err != nil {
		return nil, false, err
	}

	state := &models.RenderState{
		RenderID:    result.RenderID,
		RecordID:    record.ID,
		LocationRef: result.LocationRef,
		Status:      models.RenderStatusRendering,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := o.store.SaveRenderState(ctx, state); err != nil {
		return nil, false, err
	}

	return state, false, nil
}

// Await polls the backend until the render reaches a terminal status
// or the attempt ceiling is hit. The render outcome is persisted on
// the state and, on success, on the owning record's artifact field.
func (o *Orchestrator) Await(ctx context.Context, state *models.RenderState) error {
	logger := logging.GetLoggerByRecordID(fmt.Sprintf("%d", state.RecordID))

	for attempt := 0; attempt < o.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return o.markFailed(ctx, state, ctx.Err())
		case <-time.After(o.pollInterval):
		}

		status, err := o.backend.Status(ctx, state.RenderID)
		if err != nil {
			// Transient status failures burn an attempt but do not
			// fail the render.
			log.Debug().Err(err).Str("render_id", state.RenderID).Msg("Render status poll failed")
			continue
		}

		if status.Progress > state.Progress {
			state.Progress = status.Progress
		}
		if logger != nil {
			logger.Log("Render %s: status=%s progress=%d", state.RenderID, status.Status, state.Progress)
		}

		switch status.Status {
		case "succeeded":
			state.Status = models.RenderStatusSucceeded
			state.Progress = 100
			state.UpdatedAt = time.Now()
			if err := o.store.SaveRenderState(ctx, state); err != nil {
				return err
			}
			return o.store.SetArtifactURL(ctx, state.RecordID, status.ArtifactURL)
		case "failed":
			return o.markFailed(ctx, state, fmt.Errorf("render backend reported failure: %s", status.Error))
		}

		state.UpdatedAt = time.Now()
		if err := o.store.SaveRenderState(ctx, state); err != nil {
			return err
		}
	}

	return o.markFailed(ctx, state, &RenderTimeoutError{
		RenderID: state.RenderID,
		Attempts: o.pollAttempts,
		Interval: o.pollInterval,
	})
}

// Run triggers a render and waits for it. It returns the artifact URL
// on success; on a reuse short-circuit it returns the previously
// persisted location reference without contacting the backend.
func (o *Orchestrator) Run(ctx context.Context, record *models.GenerationRecord, narrative *models.VideoNarrative, opts Options) (string, error) {
	state, reused, err := o.StartRender(ctx, record, narrative, opts)
	if err != nil {
		return "", err
	}
	if reused {
		return state.LocationRef, nil
	}

	if err := o.Await(ctx, state); err != nil {
		return "", err
	}

	return o.store.ArtifactURL(ctx, record.ID)
}

func (o *Orchestrator) markFailed(ctx context.Context, state *models.RenderState, cause error) error {
	msg := models.TruncateError(cause.Error())
	state.Status = models.RenderStatusFailed
	state.ErrorMessage = &msg
	state.UpdatedAt = time.Now()

	if err := o.store.SaveRenderState(ctx, state); err != nil {
		return err
	}
	return cause
}
