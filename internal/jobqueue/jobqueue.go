/*
Package jobqueue provides a River-based job queue for changelog generation
and video render jobs.

For configuration options and worker counts, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/shipnotes/internal/jobs"
)

// ProcessRecordArgs represents the arguments for a full generation run
type ProcessRecordArgs struct {
	JobID    string `json:"job_id"`
	RecordID int64  `json:"record_id"`
}

// Kind returns the job kind for River
func (ProcessRecordArgs) Kind() string {
	return "process_record"
}

// RenderVideoArgs represents the arguments for a standalone video render job
type RenderVideoArgs struct {
	JobID    string `json:"job_id"`
	RecordID int64  `json:"record_id"`
	Force    bool   `json:"force"`
}

// Kind returns the job kind for River
func (RenderVideoArgs) Kind() string {
	return "render_video"
}

// ProcessRecordWorker runs generation jobs through the dispatcher so that
// progress, cancellation, and webhooks behave the same as inline execution
type ProcessRecordWorker struct {
	river.WorkerDefaults[ProcessRecordArgs]
	dispatcher *jobs.Dispatcher
}

func (w *ProcessRecordWorker) Work(ctx context.Context, job *river.Job[ProcessRecordArgs]) error {
	args := job.Args
	log.Printf("Processing generation job %s (record: %d)", args.JobID, args.RecordID)
	return w.dispatcher.Run(ctx, args.JobID)
}

// RenderVideoWorker runs standalone render jobs through the dispatcher
type RenderVideoWorker struct {
	river.WorkerDefaults[RenderVideoArgs]
	dispatcher *jobs.Dispatcher
}

func (w *RenderVideoWorker) Work(ctx context.Context, job *river.Job[RenderVideoArgs]) error {
	args := job.Args
	log.Printf("Processing render job %s (record: %d, force: %v)", args.JobID, args.RecordID, args.Force)
	return w.dispatcher.Run(ctx, args.JobID)
}

// JobQueue wraps the River client and its connection pool
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue creates a new job queue instance backed by the given database
func NewJobQueue(databaseURL string, dispatcher *jobs.Dispatcher) (*JobQueue, error) {
	config := GetQueueConfig()

	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &ProcessRecordWorker{dispatcher: dispatcher})
	river.AddWorker(workers, &RenderVideoWorker{dispatcher: dispatcher})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}

// QueueProcessRecordJob queues a full generation run for a record
func (jq *JobQueue) QueueProcessRecordJob(ctx context.Context, jobID string, recordID int64) error {
	args := ProcessRecordArgs{
		JobID:    jobID,
		RecordID: recordID,
	}

	_, err := jq.client.Insert(ctx, args, nil)
	if err != nil {
		return fmt.Errorf("failed to queue process record job: %w", err)
	}

	return nil
}

// QueueRenderVideoJob queues a standalone video render for a record
func (jq *JobQueue) QueueRenderVideoJob(ctx context.Context, jobID string, recordID int64, force bool) error {
	args := RenderVideoArgs{
		JobID:    jobID,
		RecordID: recordID,
		Force:    force,
	}

	_, err := jq.client.Insert(ctx, args, nil)
	if err != nil {
		return fmt.Errorf("failed to queue render video job: %w", err)
	}

	return nil
}
