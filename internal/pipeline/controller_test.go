package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipnotes/internal/render"
	"github.com/shipnotes/internal/stats"
	"github.com/shipnotes/pkg/models"
)

type fakeFetcher struct {
	result *stats.RepoStats
	err    error

	observedStage models.Stage
	store         RecordStore
	recordID      int64
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) Fetch(ctx context.Context, repo string, since, until time.Time) (*stats.RepoStats, error) {
	if f.store != nil {
		if record, err := f.store.GetRecord(ctx, f.recordID); err == nil {
			f.observedStage = record.Stage
		}
	}
	return f.result, f.err
}

type fakeSummarizer struct {
	commitsErr error
	overallErr error
	overall    string
}

func (f *fakeSummarizer) SummarizeCommits(ctx context.Context, repo string, commits []stats.CommitInfo) ([]models.CommitSummary, error) {
	if f.commitsErr != nil {
		return nil, f.commitsErr
	}
	result := make([]models.CommitSummary, 0, len(commits))
	for _, commit := range commits {
		result = append(result, models.CommitSummary{
			SHA:       commit.SHA,
			Message:   commit.Message,
			Additions: commit.Additions,
			Deletions: commit.Deletions,
			Summary:   "AI summary of " + commit.SHA,
		})
	}
	return result, nil
}

func (f *fakeSummarizer) SummarizeOverall(ctx context.Context, repo string, repoStats *stats.RepoStats, summaries []models.CommitSummary) (string, error) {
	if f.overallErr != nil {
		return "", f.overallErr
	}
	return f.overall, nil
}

type fakeExtractor struct {
	narrative *models.VideoNarrative
	err       error
}

func (f *fakeExtractor) FromContent(ctx context.Context, content string) (*models.VideoNarrative, error) {
	return f.narrative, f.err
}

func (f *fakeExtractor) FromSummaries(ctx context.Context, summaries []models.CommitSummary) (*models.VideoNarrative, error) {
	return f.narrative, f.err
}

type fakeRenderBackend struct {
	mu           sync.Mutex
	triggerCalls int
	succeed      bool
}

func (f *fakeRenderBackend) Trigger(ctx context.Context, narrative *models.VideoNarrative, meta render.RenderMetadata) (*render.TriggerResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggerCalls++
	return &render.TriggerResult{RenderID: "r-1", LocationRef: "loc-1"}, nil
}

func (f *fakeRenderBackend) Status(ctx context.Context, renderID string) (*render.StatusResult, error) {
	if f.succeed {
		return &render.StatusResult{Status: "succeeded", Progress: 100, ArtifactURL: "https://cdn.example.com/r-1.mp4"}, nil
	}
	return &render.StatusResult{Status: "rendering", Progress: 10}, nil
}

type memoryRenderStore struct {
	mu        sync.Mutex
	states    map[string]*models.RenderState
	artifacts map[int64]string
}

func newMemoryRenderStore() *memoryRenderStore {
	return &memoryRenderStore{
		states:    make(map[string]*models.RenderState),
		artifacts: make(map[int64]string),
	}
}

func (s *memoryRenderStore) SaveRenderState(ctx context.Context, state *models.RenderState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	s.states[state.RenderID] = &copied
	return nil
}

func (s *memoryRenderStore) ActiveRender(ctx context.Context, recordID int64) (*models.RenderState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, state := range s.states {
		if state.RecordID == recordID && !state.Status.IsTerminal() {
			copied := *state
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memoryRenderStore) ArtifactURL(ctx context.Context, recordID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifacts[recordID], nil
}

func (s *memoryRenderStore) SetArtifactURL(ctx context.Context, recordID int64, artifactURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[recordID] = artifactURL
	return nil
}

// stageRecorder wraps a store and records every persisted stage.
type stageRecorder struct {
	RecordStore
	mu     sync.Mutex
	stages []models.Stage
}

func (r *stageRecorder) UpdateRecord(ctx context.Context, record *models.GenerationRecord) error {
	r.mu.Lock()
	if len(r.stages) == 0 || r.stages[len(r.stages)-1] != record.Stage {
		r.stages = append(r.stages, record.Stage)
	}
	r.mu.Unlock()
	return r.RecordStore.UpdateRecord(ctx, record)
}

func defaultRepoStats() *stats.RepoStats {
	return &stats.RepoStats{
		Commits:      2,
		Additions:    120,
		Deletions:    30,
		Contributors: []string{"a", "b"},
		CommitDetails: []stats.CommitInfo{
			{SHA: "abc", Message: "Rework scheduler\n\nDetails.", Author: "a", Additions: 100, Deletions: 20},
			{SHA: "def", Message: "Fix typo", Author: "b", Additions: 20, Deletions: 10},
		},
	}
}

func submitAndRun(t *testing.T, c *Controller) *models.GenerationRecord {
	t.Helper()
	ctx := context.Background()

	record, err := c.Submit(ctx, "acme/widgets", time.Now().Add(-7*24*time.Hour), time.Now())
	require.NoError(t, err)

	if err := c.Run(ctx, record.ID); err != nil {
		t.Logf("run returned error: %v", err)
	}

	got, err := c.store.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	return got
}

func TestRun_FullPipelineSuccess(t *testing.T) {
	store := &stageRecorder{RecordStore: NewMemoryRecordStore()}
	fetcher := &fakeFetcher{result: defaultRepoStats()}
	summarizer := &fakeSummarizer{overall: "A productive week for the widget factory."}
	extractor := &fakeExtractor{narrative: &models.VideoNarrative{
		TopHighlights:    []models.Highlight{{Title: "Scheduler rework"}},
		ScrollingChanges: []string{"Scheduler rework", "Typo fix"},
	}}
	backend := &fakeRenderBackend{succeed: true}
	renderStore := newMemoryRenderStore()
	orch := render.NewOrchestrator(backend, renderStore, 5, time.Millisecond)

	c := NewController(store, fetcher, summarizer, extractor, orch, 10)
	record := submitAndRun(t, c)

	assert.Equal(t, models.StageCompleted, record.Stage)
	require.NotNil(t, record.CompletedAt)
	require.NotNil(t, record.Content)
	assert.Contains(t, *record.Content, "A productive week")
	assert.Contains(t, *record.Content, "## Rework scheduler")
	assert.Contains(t, *record.Content, "AI summary of abc")
	assert.Contains(t, *record.Content, "+100 −20 lines")

	assert.Equal(t, models.ChangeStats{Added: 90, Modified: 30, Removed: 0}, record.Stats)
	assert.Equal(t, []string{"a", "b"}, record.Contributors)
	require.NotNil(t, record.Narrative)
	assert.Equal(t, "Scheduler rework", record.Narrative.TopHighlights[0].Title)
	assert.Equal(t, "https://cdn.example.com/r-1.mp4", renderStore.artifacts[record.ID])

	want := []models.Stage{
		models.StageFetchingStats,
		models.StageAnalyzingCommits,
		models.StageGeneratingContent,
		models.StageGeneratingVideo,
		models.StageCompleted,
	}
	assert.Equal(t, want, store.stages)
}

func TestRun_StagePersistedBeforeWork(t *testing.T) {
	store := NewMemoryRecordStore()
	fetcher := &fakeFetcher{result: defaultRepoStats(), store: store}

	c := NewController(store, fetcher, nil, nil, nil, 10)

	record, err := c.Submit(context.Background(), "acme/widgets", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	fetcher.recordID = record.ID

	require.NoError(t, c.Run(context.Background(), record.ID))
	assert.Equal(t, models.StageFetchingStats, fetcher.observedStage,
		"fetching_stats must be visible while the fetch is running")
}

func TestRun_SummarizerFailureDegradesToTemplate(t *testing.T) {
	store := NewMemoryRecordStore()
	fetcher := &fakeFetcher{result: defaultRepoStats()}
	summarizer := &fakeSummarizer{
		commitsErr: errors.New("model quota exhausted"),
		overallErr: errors.New("model quota exhausted"),
	}

	c := NewController(store, fetcher, summarizer, nil, nil, 10)

	ctx := context.Background()
	record, err := c.Submit(ctx, "acme/widgets", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)

	require.NoError(t, c.Run(ctx, record.ID), "summarizer failure must not propagate")

	got, err := store.GetRecord(ctx, record.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StageCompleted, got.Stage)
	require.NotNil(t, got.Content)
	assert.Contains(t, *got.Content, "120")
	assert.Contains(t, *got.Content, "30")
	assert.Contains(t, *got.Content, "a, b")
	assert.Nil(t, got.ErrorMessage)
}

func TestRun_FetchFailureFailsRecord(t *testing.T) {
	store := NewMemoryRecordStore()
	fetcher := &fakeFetcher{err: &stats.UpstreamFetchError{Provider: "github", Repo: "acme/gone", StatusCode: 404, Err: errors.New("not found")}}

	c := NewController(store, fetcher, nil, nil, nil, 10)

	ctx := context.Background()
	record, err := c.Submit(ctx, "acme/gone", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)

	require.Error(t, c.Run(ctx, record.ID))

	got, err := store.GetRecord(ctx, record.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StageFailed, got.Stage)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "404")
	assert.LessOrEqual(t, len(*got.ErrorMessage), models.MaxErrorMessageLen)
	assert.NotNil(t, got.CompletedAt)
}

func TestRun_ErrorMessageTruncated(t *testing.T) {
	store := NewMemoryRecordStore()
	fetcher := &fakeFetcher{err: errors.New(strings.Repeat("x", 2000))}

	c := NewController(store, fetcher, nil, nil, nil, 10)

	ctx := context.Background()
	record, err := c.Submit(ctx, "acme/widgets", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Error(t, c.Run(ctx, record.ID))

	got, err := store.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorMessage)
	assert.Len(t, *got.ErrorMessage, models.MaxErrorMessageLen)
}

func TestRun_RenderTimeoutDoesNotFailRecord(t *testing.T) {
	store := NewMemoryRecordStore()
	fetcher := &fakeFetcher{result: defaultRepoStats()}
	summarizer := &fakeSummarizer{overall: "Overall narrative for the period, long enough to extract from."}
	extractor := &fakeExtractor{narrative: &models.VideoNarrative{
		TopHighlights: []models.Highlight{{Title: "Scheduler rework"}},
	}}
	backend := &fakeRenderBackend{succeed: false} // never finishes
	renderStore := newMemoryRenderStore()
	orch := render.NewOrchestrator(backend, renderStore, 2, time.Millisecond)

	c := NewController(store, fetcher, summarizer, extractor, orch, 10)

	ctx := context.Background()
	record, err := c.Submit(ctx, "acme/widgets", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)

	require.NoError(t, c.Run(ctx, record.ID), "render timeout must not fail the run")

	got, err := store.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, got.Stage)
	assert.Nil(t, got.ArtifactURL)

	state := renderStore.states["r-1"]
	require.NotNil(t, state)
	assert.Equal(t, models.RenderStatusFailed, state.Status)
	require.NotNil(t, state.ErrorMessage)
	assert.NotEmpty(t, *state.ErrorMessage)
}

func TestRun_EmptyNarrativeSkipsRender(t *testing.T) {
	store := NewMemoryRecordStore()
	fetcher := &fakeFetcher{result: defaultRepoStats()}
	extractor := &fakeExtractor{err: errors.New("extraction unavailable")}
	backend := &fakeRenderBackend{succeed: true}
	orch := render.NewOrchestrator(backend, newMemoryRenderStore(), 5, time.Millisecond)

	c := NewController(store, fetcher, nil, extractor, orch, 10)
	record := submitAndRun(t, c)

	assert.Equal(t, models.StageCompleted, record.Stage)
	assert.Equal(t, 0, backend.triggerCalls, "empty narrative must skip the render entirely")
}

func TestRun_TerminalRecordIsNotRerun(t *testing.T) {
	store := NewMemoryRecordStore()
	fetcher := &fakeFetcher{result: defaultRepoStats()}

	c := NewController(store, fetcher, nil, nil, nil, 10)
	record := submitAndRun(t, c)
	require.Equal(t, models.StageCompleted, record.Stage)

	firstCompleted := *record.CompletedAt
	require.NoError(t, c.Run(context.Background(), record.ID))

	got, err := store.GetRecord(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, firstCompleted, *got.CompletedAt)
}

func TestSubmit_Validation(t *testing.T) {
	c := NewController(NewMemoryRecordStore(), &fakeFetcher{}, nil, nil, nil, 10)
	ctx := context.Background()

	_, err := c.Submit(ctx, "", time.Now().Add(-time.Hour), time.Now())
	assert.Error(t, err)

	_, err = c.Submit(ctx, "acme/widgets", time.Now(), time.Now().Add(-time.Hour))
	assert.Error(t, err)
}

func TestSubmitAsync_ReturnsImmediatelyAndCompletes(t *testing.T) {
	store := NewMemoryRecordStore()
	fetcher := &fakeFetcher{result: defaultRepoStats()}

	c := NewController(store, fetcher, nil, nil, nil, 10)

	done := make(chan error, 1)
	record, err := c.SubmitAsync(context.Background(), "acme/widgets", time.Now().Add(-time.Hour), time.Now(), func(recordID int64, runErr error) {
		done <- runErr
	})
	require.NoError(t, err)
	assert.Equal(t, models.StagePending, record.Stage)

	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(5 * time.Second):
		t.Fatal("background run did not finish")
	}

	got, err := store.GetRecord(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, got.Stage)
}

func TestTopByChurn(t *testing.T) {
	commits := []stats.CommitInfo{
		{SHA: "low", Additions: 1, Deletions: 1},
		{SHA: "high", Additions: 500, Deletions: 100},
		{SHA: "mid", Additions: 50, Deletions: 10},
	}

	top := topByChurn(commits, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "high", top[0].SHA)
	assert.Equal(t, "mid", top[1].SHA)

	// Input order preserved on the original slice.
	assert.Equal(t, "low", commits[0].SHA)
}

func TestAssembleContent(t *testing.T) {
	summaries := []models.CommitSummary{
		{SHA: "abc", Message: "Add exporter\n\nLong body.", Additions: 10, Deletions: 2, Summary: "Added a metrics exporter."},
		{SHA: "def", Message: "Fix typo", Additions: 1, Deletions: 1, Summary: ""},
	}

	content := assembleContent("The period focused on observability.", summaries)

	assert.True(t, strings.HasPrefix(content, "The period focused on observability.\n"))
	assert.Contains(t, content, "## Add exporter\n")
	assert.Contains(t, content, "Added a metrics exporter.")
	assert.Contains(t, content, "+10 −2 lines")
	assert.Contains(t, content, "+1 −1 lines")
	assert.NotContains(t, content, "Long body.")
}

func TestFallbackNarrative(t *testing.T) {
	narrative := fallbackNarrative("acme/widgets", defaultRepoStats())

	assert.Contains(t, narrative, "2 commits")
	assert.Contains(t, narrative, "120 lines added")
	assert.Contains(t, narrative, "30 lines removed")
	assert.Contains(t, narrative, "a, b")
}

func TestDeriveChangeStats(t *testing.T) {
	cs := deriveChangeStats(&stats.RepoStats{
		Additions: 35,
		Deletions: 17,
		CommitDetails: []stats.CommitInfo{
			{SHA: "abc", Additions: 30, Deletions: 5},
			{SHA: "def", Additions: 5, Deletions: 12},
		},
	})
	assert.Equal(t, models.ChangeStats{Added: 25, Modified: 10, Removed: 7}, cs)

	// Without per-commit detail the split falls back to window totals.
	cs = deriveChangeStats(&stats.RepoStats{Additions: 40, Deletions: 15})
	assert.Equal(t, models.ChangeStats{Added: 25, Modified: 15, Removed: 0}, cs)
}

func TestRun_ArtifactURLLandsOnRecordWithMemoryStore(t *testing.T) {
	store := NewMemoryRecordStore()
	backend := &fakeRenderBackend{succeed: true}
	orch := render.NewOrchestrator(backend, store, 5, time.Millisecond)

	c := NewController(store, &fakeFetcher{result: defaultRepoStats()},
		&fakeSummarizer{overall: "Overall."},
		&fakeExtractor{narrative: &models.VideoNarrative{
			TopHighlights: []models.Highlight{{Title: "Scheduler rework"}},
		}}, orch, 10)
	record := submitAndRun(t, c)

	assert.Equal(t, models.StageCompleted, record.Stage)
	require.NotNil(t, record.ArtifactURL)
	assert.Equal(t, "https://cdn.example.com/r-1.mp4", *record.ArtifactURL)

	url, err := store.ArtifactURL(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/r-1.mp4", url)
}
