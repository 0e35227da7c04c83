package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipnotes/pkg/models"
)

func newTestTracker() *Tracker {
	return NewTracker(NewMemoryStore(), nil)
}

func TestTracker_Create(t *testing.T) {
	tracker := newTestTracker()

	job, err := tracker.Create(context.Background(), models.JobTypeProcessRecord, json.RawMessage(`{"record_id": 1}`), nil)
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Nil(t, job.CompletedAt)
}

func TestTracker_CreateRejectsUnknownType(t *testing.T) {
	tracker := newTestTracker()

	_, err := tracker.Create(context.Background(), models.JobType("mine-bitcoin"), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job type")
}

func TestTracker_ProgressNeverDecreases(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()

	job, err := tracker.Create(ctx, models.JobTypeRenderVideo, nil, nil)
	require.NoError(t, err)

	p60 := 60
	job, err = tracker.Apply(ctx, job.ID, Update{Progress: &p60})
	require.NoError(t, err)
	assert.Equal(t, 60, job.Progress)

	p30 := 30
	job, err = tracker.Apply(ctx, job.ID, Update{Progress: &p30})
	require.NoError(t, err)
	assert.Equal(t, 60, job.Progress, "progress must not go backwards")

	p150 := 150
	job, err = tracker.Apply(ctx, job.ID, Update{Progress: &p150})
	require.NoError(t, err)
	assert.Equal(t, 100, job.Progress, "progress is clamped to 100")
}

func TestTracker_TerminalUpdatesAreNoOps(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()

	job, err := tracker.Create(ctx, models.JobTypeProcessRecord, nil, nil)
	require.NoError(t, err)

	job, err = tracker.Complete(ctx, job.ID, json.RawMessage(`{"record_id": 1}`))
	require.NoError(t, err)
	require.NotNil(t, job.CompletedAt)
	firstCompletion := *job.CompletedAt

	// Duplicate completion signal from a concurrent path.
	job, err = tracker.Fail(ctx, job.ID, errors.New("late failure"))
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, job.Status, "terminal status must not change")
	assert.Nil(t, job.Error)
	assert.Equal(t, firstCompletion, *job.CompletedAt, "completedAt is set exactly once")
}

func TestTracker_CancelFromQueued(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()

	job, err := tracker.Create(ctx, models.JobTypeRenderVideo, nil, nil)
	require.NoError(t, err)

	job, err = tracker.Cancel(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.NotNil(t, job.CompletedAt)
}

func TestTracker_CancelTerminalIsNoOp(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()

	job, err := tracker.Create(ctx, models.JobTypeProcessRecord, nil, nil)
	require.NoError(t, err)

	_, err = tracker.Fail(ctx, job.ID, errors.New("boom"))
	require.NoError(t, err)

	job, err = tracker.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
}

func TestTracker_FailTruncatesError(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()

	job, err := tracker.Create(ctx, models.JobTypeProcessRecord, nil, nil)
	require.NoError(t, err)

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	job, err = tracker.Fail(ctx, job.ID, errors.New(string(long)))
	require.NoError(t, err)

	require.NotNil(t, job.Error)
	assert.Len(t, *job.Error, models.MaxErrorMessageLen)
}

func TestTracker_WebhookFiredOnceOnCompletion(t *testing.T) {
	var calls int32
	var received webhookEnvelope
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tracker := NewTracker(NewMemoryStore(), NewNotifier())
	ctx := context.Background()

	callback := server.URL
	job, err := tracker.Create(ctx, models.JobTypeRenderVideo, nil, &callback)
	require.NoError(t, err)

	_, err = tracker.Complete(ctx, job.ID, json.RawMessage(`{"artifact_url": "x"}`))
	require.NoError(t, err)

	// Duplicate terminal signal must not re-fire the webhook.
	_, err = tracker.Complete(ctx, job.ID, json.RawMessage(`{"artifact_url": "y"}`))
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, job.ID, received.JobID)
	assert.Equal(t, models.JobStatusCompleted, received.Status)
	assert.NotNil(t, received.CompletedAt)
}

func TestTracker_WebhookFailureDoesNotAffectJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	tracker := NewTracker(NewMemoryStore(), NewNotifier())
	ctx := context.Background()

	callback := server.URL
	job, err := tracker.Create(ctx, models.JobTypeProcessRecord, nil, &callback)
	require.NoError(t, err)

	job, err = tracker.Complete(ctx, job.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestTracker_NoWebhookOnCancel(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	tracker := NewTracker(NewMemoryStore(), NewNotifier())
	ctx := context.Background()

	callback := server.URL
	job, err := tracker.Create(ctx, models.JobTypeRenderVideo, nil, &callback)
	require.NoError(t, err)

	_, err = tracker.Cancel(ctx, job.ID)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestMemoryStore_ListNewestFirstWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	for i, jobType := range []models.JobType{models.JobTypeProcessRecord, models.JobTypeRenderVideo, models.JobTypeProcessRecord} {
		job := &models.AsyncJob{
			ID:        string(rune('a' + i)),
			Type:      jobType,
			Status:    models.JobStatusQueued,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.Create(ctx, job))
	}

	all, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID, "newest first")

	processType := models.JobTypeProcessRecord
	filtered, err := store.List(ctx, ListFilter{Type: &processType})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)
}

func TestMemoryStore_GetUnknownJob(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestApply_ResultOnlyAttachesOnCompletion(t *testing.T) {
	tracker := newTestTracker()
	job, err := tracker.Create(context.Background(), models.JobTypeProcessRecord, nil, nil)
	require.NoError(t, err)

	// A progress update must not smuggle a result onto a running job.
	progress := 40
	updated, err := tracker.Apply(context.Background(), job.ID, Update{
		Progress: &progress,
		Result:   json.RawMessage(`{"partial":true}`),
	})
	require.NoError(t, err)
	assert.Nil(t, updated.Result)
	assert.Equal(t, 40, updated.Progress)

	updated, err = tracker.Complete(context.Background(), job.ID, json.RawMessage(`{"ok":true}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(updated.Result))
	assert.Nil(t, updated.Error)
}

func TestApply_ResultAndErrorAreMutuallyExclusive(t *testing.T) {
	tracker := newTestTracker()
	job, err := tracker.Create(context.Background(), models.JobTypeProcessRecord, nil, nil)
	require.NoError(t, err)

	status := models.JobStatusCompleted
	msg := "boom"
	_, err = tracker.Apply(context.Background(), job.ID, Update{
		Status: &status,
		Result: json.RawMessage(`{}`),
		Error:  &msg,
	})
	require.Error(t, err)

	current, err := tracker.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, current.Status)
}

func TestApply_ErrorIgnoredOnNonFailedTransition(t *testing.T) {
	tracker := newTestTracker()
	job, err := tracker.Create(context.Background(), models.JobTypeProcessRecord, nil, nil)
	require.NoError(t, err)

	msg := "transient hiccup"
	status := models.JobStatusProcessing
	updated, err := tracker.Apply(context.Background(), job.ID, Update{Status: &status, Error: &msg})
	require.NoError(t, err)
	assert.Nil(t, updated.Error)

	updated, err = tracker.Fail(context.Background(), job.ID, errors.New("boom"))
	require.NoError(t, err)
	require.NotNil(t, updated.Error)
	assert.Equal(t, "boom", *updated.Error)
	assert.Nil(t, updated.Result)
}
