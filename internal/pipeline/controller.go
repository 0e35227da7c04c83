package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/shipnotes/internal/highlight"
	"github.com/shipnotes/internal/logging"
	"github.com/shipnotes/internal/render"
	"github.com/shipnotes/internal/stats"
	"github.com/shipnotes/internal/summarize"
	"github.com/shipnotes/pkg/models"
)

// ErrRecordNotFound is returned when a record id does not exist.
var ErrRecordNotFound = errors.New("generation record not found")

// PersistenceError wraps a failed store write. There is no fallback for
// these; they surface to the caller as-is.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// RecordStore persists generation records. The controller is the sole
// writer of content fields; artifact fields belong to the render
// orchestrator.
type RecordStore interface {
	CreateRecord(ctx context.Context, record *models.GenerationRecord) error
	GetRecord(ctx context.Context, id int64) (*models.GenerationRecord, error)
	UpdateRecord(ctx context.Context, record *models.GenerationRecord) error
}

// Controller sequences a generation record through the fixed pipeline:
// stats fetch, commit analysis, content assembly, video render.
type Controller struct {
	store      RecordStore
	fetcher    stats.Fetcher
	summarizer summarize.Summarizer
	extractor  highlight.Extractor
	renderer   *render.Orchestrator
	topCommits int
}

func NewController(store RecordStore, fetcher stats.Fetcher, summarizer summarize.Summarizer, extractor highlight.Extractor, renderer *render.Orchestrator, topCommits int) *Controller {
	if topCommits <= 0 {
		topCommits = 10
	}
	return &Controller{
		store:      store,
		fetcher:    fetcher,
		summarizer: summarizer,
		extractor:  extractor,
		renderer:   renderer,
		topCommits: topCommits,
	}
}

// Submit validates the request, persists a pending record, and returns
// it. No pipeline work happens yet.
func (c *Controller) Submit(ctx context.Context, repo string, windowStart, windowEnd time.Time) (*models.GenerationRecord, error) {
	if repo == "" {
		return nil, fmt.Errorf("repository is required")
	}
	if !windowEnd.After(windowStart) {
		return nil, fmt.Errorf("window end must be after window start")
	}

	now := time.Now()
	record := &models.GenerationRecord{
		Repository:   repo,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		Stage:        models.StagePending,
		StageMessage: "Queued for processing",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := c.store.CreateRecord(ctx, record); err != nil {
		return nil, err
	}

	log.Printf("[DEBUG] Submitted generation record %d for %s", record.ID, repo)
	return record, nil
}

// SubmitAsync submits the record and continues processing on a
// background goroutine, so the caller gets the record id immediately.
func (c *Controller) SubmitAsync(ctx context.Context, repo string, windowStart, windowEnd time.Time, onDone func(recordID int64, err error)) (*models.GenerationRecord, error) {
	record, err := c.Submit(ctx, repo, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[ERROR] Pipeline run for record %d panicked: %v", record.ID, r)
			}
		}()

		// Detached from the request context on purpose: the run must
		// outlive the originating HTTP request.
		runErr := c.Run(context.Background(), record.ID)
		if onDone != nil {
			onDone(record.ID, runErr)
		}
	}()

	return record, nil
}

// Run executes the pipeline for an existing record, advancing it stage
// by stage. Each stage is persisted before its work starts so an
// observer always sees the stage currently executing.
func (c *Controller) Run(ctx context.Context, recordID int64) error {
	record, err := c.store.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}
	if record.Stage.IsTerminal() {
		log.Printf("[DEBUG] Record %d already terminal (stage=%s), skipping run", record.ID, record.Stage)
		return nil
	}

	logger, logErr := logging.StartRunLogging(fmt.Sprintf("%d", record.ID))
	if logErr != nil {
		log.Printf("[DEBUG] Could not start run logging for record %d: %v", record.ID, logErr)
	}
	if logger != nil {
		defer logger.Close()
		logger.LogSection(fmt.Sprintf("Generation run for %s (%s to %s)",
			record.Repository,
			record.WindowStart.Format("2006-01-02"),
			record.WindowEnd.Format("2006-01-02")))
	}

	repoStats, err := c.runFetchStats(ctx, record, logger)
	if err != nil {
		return c.fail(ctx, record, logger, err)
	}

	summaries, err := c.runAnalyzeCommits(ctx, record, repoStats, logger)
	if err != nil {
		return c.fail(ctx, record, logger, err)
	}

	if err := c.runGenerateContent(ctx, record, repoStats, summaries, logger); err != nil {
		return c.fail(ctx, record, logger, err)
	}

	c.runGenerateVideo(ctx, record, summaries, logger)

	return c.complete(ctx, record, logger)
}

func (c *Controller) runFetchStats(ctx context.Context, record *models.GenerationRecord, logger *logging.GenerationLogger) (*stats.RepoStats, error) {
	if err := c.setStage(ctx, record, models.StageFetchingStats, "Fetching repository activity"); err != nil {
		return nil, err
	}

	repoStats, err := c.fetcher.Fetch(ctx, record.Repository, record.WindowStart, record.WindowEnd)
	if err != nil {
		return nil, err
	}

	record.Stats = deriveChangeStats(repoStats)
	record.Contributors = repoStats.Contributors

	if logger != nil {
		logger.Log("Fetched %d commits: +%d -%d lines, %d contributors",
			repoStats.Commits, repoStats.Additions, repoStats.Deletions, len(repoStats.Contributors))
	}

	return repoStats, nil
}

// deriveChangeStats splits line churn into added, modified, and removed.
// A modified line shows up in a diff as one addition paired with one
// deletion, so per commit the overlapping portion counts as modified and
// only the surplus counts as pure additions or removals.
func deriveChangeStats(repoStats *stats.RepoStats) models.ChangeStats {
	if len(repoStats.CommitDetails) == 0 {
		modified := min(repoStats.Additions, repoStats.Deletions)
		return models.ChangeStats{
			Added:    repoStats.Additions - modified,
			Modified: modified,
			Removed:  repoStats.Deletions - modified,
		}
	}

	var cs models.ChangeStats
	for _, commit := range repoStats.CommitDetails {
		modified := min(commit.Additions, commit.Deletions)
		cs.Added += commit.Additions - modified
		cs.Modified += modified
		cs.Removed += commit.Deletions - modified
	}
	return cs
}

// runAnalyzeCommits summarizes the top commits by churn. A summarizer
// failure degrades to the deterministic fallback instead of failing
// the record.
func (c *Controller) runAnalyzeCommits(ctx context.Context, record *models.GenerationRecord, repoStats *stats.RepoStats, logger *logging.GenerationLogger) ([]models.CommitSummary, error) {
	if err := c.setStage(ctx, record, models.StageAnalyzingCommits, "Summarizing commits"); err != nil {
		return nil, err
	}

	top := topByChurn(repoStats.CommitDetails, c.topCommits)
	if len(top) == 0 {
		return nil, nil
	}

	if c.summarizer == nil {
		return fallbackSummaries(top), nil
	}

	summaries, err := c.summarizer.SummarizeCommits(ctx, record.Repository, top)
	if err != nil {
		log.Printf("[DEBUG] Summarizer failed for record %d, using fallback: %v", record.ID, err)
		if logger != nil {
			logger.LogError("commit summarization", err)
			logger.Log("Falling back to deterministic commit summaries")
		}
		return fallbackSummaries(top), nil
	}

	return summaries, nil
}

func (c *Controller) runGenerateContent(ctx context.Context, record *models.GenerationRecord, repoStats *stats.RepoStats, summaries []models.CommitSummary, logger *logging.GenerationLogger) error {
	if err := c.setStage(ctx, record, models.StageGeneratingContent, "Assembling changelog content"); err != nil {
		return err
	}

	overall := c.overallNarrative(ctx, record, repoStats, summaries, logger)
	content := assembleContent(overall, summaries)

	record.Content = &content
	record.Summaries = summaries

	if logger != nil {
		logger.Log("Assembled content (%d bytes, %d commit sections)", len(content), len(summaries))
	}

	return c.store.UpdateRecord(ctx, record)
}

// overallNarrative asks the summarizer for the opening paragraph and
// degrades to the stats template on any failure.
func (c *Controller) overallNarrative(ctx context.Context, record *models.GenerationRecord, repoStats *stats.RepoStats, summaries []models.CommitSummary, logger *logging.GenerationLogger) string {
	if c.summarizer != nil {
		narrative, err := c.summarizer.SummarizeOverall(ctx, record.Repository, repoStats, summaries)
		if err == nil && narrative != "" {
			return narrative
		}
		if err != nil {
			log.Printf("[DEBUG] Overall narrative failed for record %d, using fallback: %v", record.ID, err)
			if logger != nil {
				logger.LogError("overall narrative", err)
			}
		}
	}
	return fallbackNarrative(record.Repository, repoStats)
}

// runGenerateVideo derives highlights and drives the render backend.
// Render failures never fail the record.
func (c *Controller) runGenerateVideo(ctx context.Context, record *models.GenerationRecord, summaries []models.CommitSummary, logger *logging.GenerationLogger) {
	if err := c.setStage(ctx, record, models.StageGeneratingVideo, "Rendering highlight video"); err != nil {
		return
	}

	var content string
	if record.Content != nil {
		content = *record.Content
	}

	narrative := highlight.Derive(ctx, c.extractor, record.Narrative, content, summaries)
	if narrative.IsEmpty() {
		if logger != nil {
			logger.Log("No highlights derived, skipping video render")
		}
		return
	}
	record.Narrative = narrative
	if err := c.store.UpdateRecord(ctx, record); err != nil {
		log.Printf("[DEBUG] Failed to persist narrative for record %d: %v", record.ID, err)
		return
	}

	if c.renderer == nil {
		return
	}

	if _, err := c.renderer.Run(ctx, record, narrative, render.Options{ReuseExisting: true}); err != nil {
		// Best effort: the failure lives on the RenderState, the
		// record still completes.
		log.Printf("[DEBUG] Render failed for record %d: %v", record.ID, err)
		if logger != nil {
			logger.LogError("video render", err)
		}
	}
}

func (c *Controller) complete(ctx context.Context, record *models.GenerationRecord, logger *logging.GenerationLogger) error {
	now := time.Now()
	record.Stage = models.StageCompleted
	record.StageMessage = "Generation complete"
	record.CompletedAt = &now
	record.UpdatedAt = now

	if logger != nil {
		logger.LogStage(string(models.StageCompleted), "Generation complete")
	}

	if err := c.store.UpdateRecord(ctx, record); err != nil {
		return &PersistenceError{Op: "complete", Err: err}
	}
	return nil
}

func (c *Controller) fail(ctx context.Context, record *models.GenerationRecord, logger *logging.GenerationLogger, cause error) error {
	msg := models.TruncateError(cause.Error())
	now := time.Now()
	record.Stage = models.StageFailed
	record.StageMessage = "Generation failed"
	record.ErrorMessage = &msg
	record.CompletedAt = &now
	record.UpdatedAt = now

	log.Printf("[DEBUG] Record %d failed: %v", record.ID, cause)
	if logger != nil {
		logger.LogError("pipeline", cause)
	}

	if err := c.store.UpdateRecord(ctx, record); err != nil {
		return &PersistenceError{Op: "fail", Err: err}
	}
	return cause
}

// setStage persists the stage transition before the stage's work runs.
func (c *Controller) setStage(ctx context.Context, record *models.GenerationRecord, stage models.Stage, message string) error {
	if !record.Stage.CanTransitionTo(stage) {
		return fmt.Errorf("illegal stage transition %s -> %s for record %d", record.Stage, stage, record.ID)
	}

	record.Stage = stage
	record.StageMessage = message
	record.UpdatedAt = time.Now()

	if logger := logging.GetLoggerByRecordID(fmt.Sprintf("%d", record.ID)); logger != nil {
		logger.LogStage(string(stage), message)
	}

	if err := c.store.UpdateRecord(ctx, record); err != nil {
		return &PersistenceError{Op: fmt.Sprintf("stage %s", stage), Err: err}
	}
	return nil
}

// topByChurn returns the k commits with the highest churn, most
// churned first.
func topByChurn(commits []stats.CommitInfo, k int) []stats.CommitInfo {
	sorted := make([]stats.CommitInfo, len(commits))
	copy(sorted, commits)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Churn() > sorted[j].Churn()
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}
