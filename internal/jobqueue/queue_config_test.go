package jobqueue

import (
	"testing"

	"github.com/riverqueue/river"
)

func TestJobKinds(t *testing.T) {
	if got := (ProcessRecordArgs{}).Kind(); got != "process_record" {
		t.Errorf("ProcessRecordArgs.Kind() = %q", got)
	}
	if got := (RenderVideoArgs{}).Kind(); got != "render_video" {
		t.Errorf("RenderVideoArgs.Kind() = %q", got)
	}
}

func TestQueueConfigWorkerOverride(t *testing.T) {
	t.Setenv("SHIPNOTES_QUEUE_WORKERS", "25")
	config := GetQueueConfig()
	if config.MaxWorkers != 25 {
		t.Errorf("MaxWorkers = %d, want 25", config.MaxWorkers)
	}

	t.Setenv("SHIPNOTES_QUEUE_WORKERS", "not-a-number")
	config = GetQueueConfig()
	if config.MaxWorkers != DefaultQueueConfig().MaxWorkers {
		t.Errorf("invalid override should fall back to default, got %d", config.MaxWorkers)
	}
}

func TestRiverQueueConfig(t *testing.T) {
	config := &QueueConfig{MaxWorkers: 4}
	queues := config.RiverQueueConfig()

	qc, ok := queues[river.QueueDefault]
	if !ok {
		t.Fatal("default queue missing")
	}
	if qc.MaxWorkers != 4 {
		t.Errorf("MaxWorkers = %d, want 4", qc.MaxWorkers)
	}
}
