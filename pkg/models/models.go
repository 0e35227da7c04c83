package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage represents a step in the generation pipeline's fixed sequence
type Stage string

const (
	StagePending           Stage = "pending"
	StageFetchingStats     Stage = "fetching_stats"
	StageAnalyzingCommits  Stage = "analyzing_commits"
	StageGeneratingContent Stage = "generating_content"
	StageGeneratingVideo   Stage = "generating_video"
	StageCompleted         Stage = "completed"
	StageFailed            Stage = "failed"
)

// stageOrder is the canonical forward sequence. "failed" is reachable from
// any non-terminal stage and is not part of the ordering.
var stageOrder = []Stage{
	StagePending,
	StageFetchingStats,
	StageAnalyzingCommits,
	StageGeneratingContent,
	StageGeneratingVideo,
	StageCompleted,
}

// IsTerminal reports whether no further stage transitions are allowed
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// CanTransitionTo reports whether moving from s to next is a legal transition:
// one step forward in the fixed sequence, or a jump to failed from any
// non-terminal stage.
func (s Stage) CanTransitionTo(next Stage) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	for i, stage := range stageOrder {
		if stage == s {
			return i+1 < len(stageOrder) && stageOrder[i+1] == next
		}
	}
	return false
}

// ChangeStats aggregates line-level change counts for a time window
type ChangeStats struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Removed  int `json:"removed"`
}

// CommitSummary is one summarized commit. Immutable once produced.
type CommitSummary struct {
	SHA       string `json:"sha"`
	Message   string `json:"message"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Summary   string `json:"summary"`
}

// Churn is the significance measure used to rank commits
func (c CommitSummary) Churn() int {
	return c.Additions + c.Deletions
}

// Highlight is a single top-highlight entry in a video narrative
type Highlight struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// VideoNarrative drives video rendering: a condensed top list plus the full
// scrolling list of changes.
type VideoNarrative struct {
	TopHighlights    []Highlight `json:"top_highlights"`
	ScrollingChanges []string    `json:"scrolling_changes"`
}

// IsEmpty reports whether there is nothing to render
func (n *VideoNarrative) IsEmpty() bool {
	return n == nil || (len(n.TopHighlights) == 0 && len(n.ScrollingChanges) == 0)
}

// Validate rejects malformed narratives at the persistence boundary
func (n *VideoNarrative) Validate() error {
	if n == nil {
		return nil
	}
	if len(n.TopHighlights) > 3 {
		return fmt.Errorf("narrative has %d top highlights, maximum is 3", len(n.TopHighlights))
	}
	for i, h := range n.TopHighlights {
		if h.Title == "" {
			return fmt.Errorf("top highlight %d has an empty title", i)
		}
	}
	return nil
}

// GenerationRecord is one request to turn a repository time-window into a
// changelog artifact. Content fields are written only by the pipeline
// controller; artifact/render fields only by the render orchestrator.
type GenerationRecord struct {
	ID           int64           `json:"id"`
	Repository   string          `json:"repository"`
	WindowStart  time.Time       `json:"window_start"`
	WindowEnd    time.Time       `json:"window_end"`
	Stage        Stage           `json:"stage"`
	StageMessage string          `json:"stage_message"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	Content      *string         `json:"content,omitempty"`
	Stats        ChangeStats     `json:"change_stats"`
	Contributors []string        `json:"contributors"`
	Summaries    []CommitSummary `json:"commit_summaries,omitempty"`
	Narrative    *VideoNarrative `json:"video_narrative,omitempty"`
	ArtifactURL  *string         `json:"artifact_url,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// MaxErrorMessageLen bounds persisted error strings
const MaxErrorMessageLen = 500

// TruncateError bounds an error string for persistence
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorMessageLen {
		return msg
	}
	return msg[:MaxErrorMessageLen]
}

// JobType identifies what a job does. The set is closed: the dispatcher
// rejects anything else.
type JobType string

const (
	JobTypeProcessRecord     JobType = "process-record"
	JobTypeRenderVideo       JobType = "render-video"
	JobTypeExtractHighlights JobType = "extract-highlights"
)

// KnownJobType reports whether t is one of the dispatchable job types
func KnownJobType(t JobType) bool {
	switch t {
	case JobTypeProcessRecord, JobTypeRenderVideo, JobTypeExtractHighlights:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of an async job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further updates
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// AsyncJob is a generic trackable long-running operation, independent of
// pipeline stage semantics.
type AsyncJob struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Status      JobStatus       `json:"status"`
	Progress    int             `json:"progress"`
	Params      json.RawMessage `json:"params,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CallbackURL *string         `json:"callback_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// RenderStatus is the lifecycle state of a single render attempt
type RenderStatus string

const (
	RenderStatusPending   RenderStatus = "pending"
	RenderStatusRendering RenderStatus = "rendering"
	RenderStatusSucceeded RenderStatus = "succeeded"
	RenderStatusFailed    RenderStatus = "failed"
)

// IsTerminal reports whether the render attempt has finished
func (s RenderStatus) IsTerminal() bool {
	return s == RenderStatusSucceeded || s == RenderStatusFailed
}

// RenderState tracks one render attempt against the remote backend. A record
// may accumulate several attempts over its life but holds at most one
// non-terminal attempt at a time.
type RenderState struct {
	RenderID     string       `json:"render_id"`
	RecordID     int64        `json:"record_id"`
	LocationRef  string       `json:"location_ref"`
	Status       RenderStatus `json:"status"`
	Progress     int          `json:"progress"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
