package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/shipnotes/internal/highlight"
	"github.com/shipnotes/internal/jobs"
	"github.com/shipnotes/internal/pipeline"
	"github.com/shipnotes/internal/render"
	"github.com/shipnotes/pkg/models"
)

type createGenerationRequest struct {
	Repository  string    `json:"repository"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	CallbackURL *string   `json:"callback_url,omitempty"`
}

type renderVideoRequest struct {
	Force       bool    `json:"force"`
	CallbackURL *string `json:"callback_url,omitempty"`
}

// processRecordParams is the params payload of a process-record job
type processRecordParams struct {
	RecordID int64 `json:"record_id"`
}

// renderVideoParams is the params payload of a render-video job
type renderVideoParams struct {
	RecordID int64 `json:"record_id"`
	Force    bool  `json:"force"`
}

// extractHighlightsParams is the params payload of an extract-highlights job
type extractHighlightsParams struct {
	RecordID int64 `json:"record_id"`
}

// createGeneration accepts a generation request, persists a pending record,
// and hands the work to a job so the response never waits on upstream APIs
func (s *Server) createGeneration(c echo.Context) error {
	var req createGenerationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if req.Repository == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "repository is required"})
	}
	if !req.WindowEnd.After(req.WindowStart) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "window_end must be after window_start"})
	}

	ctx := c.Request().Context()

	record, err := s.controller.Submit(ctx, req.Repository, req.WindowStart, req.WindowEnd)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("failed to create generation: %v", err)})
	}

	params, err := json.Marshal(processRecordParams{RecordID: record.ID})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to encode job params"})
	}

	job, err := s.dispatcher.Tracker().Create(ctx, models.JobTypeProcessRecord, params, req.CallbackURL)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("failed to create job: %v", err)})
	}

	if err := s.enqueueProcessRecord(ctx, job.ID, record.ID); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("failed to queue job: %v", err)})
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"record": record,
		"job":    job,
	})
}

func (s *Server) listGenerations(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		limit = n
	}

	records, err := s.records.ListRecords(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("failed to list generations: %v", err)})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"generations": records,
		"count":       len(records),
	})
}

func (s *Server) getGenerationByID(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid generation id"})
	}

	record, err := s.records.GetRecord(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, pipeline.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "generation not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("failed to load generation: %v", err)})
	}

	return c.JSON(http.StatusOK, record)
}

// renderGenerationVideo queues a standalone render for an existing record.
// With force the artifact is rebuilt even when one already exists.
func (s *Server) renderGenerationVideo(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid generation id"})
	}

	var req renderVideoRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	ctx := c.Request().Context()

	record, err := s.records.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, pipeline.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "generation not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("failed to load generation: %v", err)})
	}

	if record.Narrative.IsEmpty() {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "generation has no video narrative to render"})
	}

	params, err := json.Marshal(renderVideoParams{RecordID: record.ID, Force: req.Force})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to encode job params"})
	}

	job, err := s.dispatcher.Tracker().Create(ctx, models.JobTypeRenderVideo, params, req.CallbackURL)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("failed to create job: %v", err)})
	}

	if err := s.enqueueRenderVideo(ctx, job.ID, record.ID, req.Force); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("failed to queue job: %v", err)})
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{"job": job})
}

// downloadArtifact serves the rendered video for a record. With a mirror
// configured the artifact is cached locally; otherwise the client is
// redirected to the render backend's URL.
func (s *Server) downloadArtifact(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid generation id"})
	}

	ctx := c.Request().Context()

	record, err := s.records.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, pipeline.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "generation not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("failed to load generation: %v", err)})
	}

	if record.ArtifactURL == nil || *record.ArtifactURL == "" {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "generation has no rendered artifact"})
	}

	if s.mirror == nil {
		return c.Redirect(http.StatusTemporaryRedirect, *record.ArtifactURL)
	}

	reader, err := s.mirror.Fetch(ctx, record.ID, *record.ArtifactURL)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": fmt.Sprintf("failed to fetch artifact: %v", err)})
	}
	defer reader.Close()

	return c.Stream(http.StatusOK, "video/mp4", reader)
}

func (s *Server) listJobs(c echo.Context) error {
	filter := jobs.ListFilter{}

	if raw := c.QueryParam("type"); raw != "" {
		jobType := models.JobType(raw)
		if !models.KnownJobType(jobType) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown job type %q", raw)})
		}
		filter.Type = &jobType
	}

	if raw := c.QueryParam("status"); raw != "" {
		status := models.JobStatus(raw)
		switch status {
		case models.JobStatusQueued, models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
			filter.Status = &status
		default:
			return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown job status %q", raw)})
		}
	}

	list, err := s.dispatcher.Tracker().List(c.Request().Context(), filter)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("failed to list jobs: %v", err)})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

func (s *Server) getJobByID(c echo.Context) error {
	job, err := s.dispatcher.Tracker().Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("failed to load job: %v", err)})
	}

	return c.JSON(http.StatusOK, job)
}

// cancelJob requests cooperative cancellation. A job already running keeps
// running until its handler finishes, but its result is discarded.
func (s *Server) cancelJob(c echo.Context) error {
	job, err := s.dispatcher.Tracker().Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("failed to cancel job: %v", err)})
	}

	return c.JSON(http.StatusOK, job)
}

func (s *Server) enqueueProcessRecord(ctx context.Context, jobID string, recordID int64) error {
	if s.queue != nil {
		return s.queue.QueueProcessRecordJob(ctx, jobID, recordID)
	}
	go s.runInline(jobID)
	return nil
}

func (s *Server) enqueueRenderVideo(ctx context.Context, jobID string, recordID int64, force bool) error {
	if s.queue != nil {
		return s.queue.QueueRenderVideoJob(ctx, jobID, recordID, force)
	}
	go s.runInline(jobID)
	return nil
}

// runInline executes a job on a goroutine when no durable queue is
// configured. Uses a background context so the job outlives the request.
func (s *Server) runInline(jobID string) {
	if err := s.dispatcher.Run(context.Background(), jobID); err != nil {
		log.Printf("[DEBUG] Inline job %s finished with error: %v", jobID, err)
	}
}

// RegisterJobHandlers wires the dispatchable job types to the pipeline
// controller and render orchestrator
func RegisterJobHandlers(dispatcher *jobs.Dispatcher, controller *pipeline.Controller, records RecordAPI, renderer *render.Orchestrator, extractor highlight.Extractor) {
	dispatcher.Register(models.JobTypeProcessRecord, func(ctx context.Context, job *models.AsyncJob) (json.RawMessage, error) {
		var params processRecordParams
		if err := json.Unmarshal(job.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid job params: %w", err)
		}

		if err := controller.Run(ctx, params.RecordID); err != nil {
			return nil, err
		}

		record, err := records.GetRecord(ctx, params.RecordID)
		if err != nil {
			return nil, err
		}
		if record.Stage == models.StageFailed {
			msg := "generation failed"
			if record.ErrorMessage != nil {
				msg = *record.ErrorMessage
			}
			return nil, errors.New(msg)
		}

		return json.Marshal(map[string]interface{}{
			"record_id": record.ID,
			"stage":     record.Stage,
		})
	})

	dispatcher.Register(models.JobTypeRenderVideo, func(ctx context.Context, job *models.AsyncJob) (json.RawMessage, error) {
		var params renderVideoParams
		if err := json.Unmarshal(job.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid job params: %w", err)
		}

		record, err := records.GetRecord(ctx, params.RecordID)
		if err != nil {
			return nil, err
		}
		if record.Narrative.IsEmpty() {
			return nil, fmt.Errorf("record %d has no video narrative", record.ID)
		}

		artifactURL, err := renderer.Run(ctx, record, record.Narrative, render.Options{
			ReuseExisting: !params.Force,
			Force:         params.Force,
		})
		if err != nil {
			return nil, err
		}

		return json.Marshal(map[string]string{"artifact_url": artifactURL})
	})

	dispatcher.Register(models.JobTypeExtractHighlights, func(ctx context.Context, job *models.AsyncJob) (json.RawMessage, error) {
		var params extractHighlightsParams
		if err := json.Unmarshal(job.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid job params: %w", err)
		}

		record, err := records.GetRecord(ctx, params.RecordID)
		if err != nil {
			return nil, err
		}

		content := ""
		if record.Content != nil {
			content = *record.Content
		}
		narrative := highlight.Derive(ctx, extractor, nil, content, record.Summaries)

		record.Narrative = narrative
		if err := records.UpdateRecord(ctx, record); err != nil {
			return nil, err
		}

		return json.Marshal(narrative)
	})
}
