package jobqueue

import (
	"os"
	"strconv"
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	// Number of concurrent workers processing jobs (default: 10)
	MaxWorkers int

	// Maximum retry attempts per job before River discards it (default: 5)
	MaxRetries int

	// Maximum time a single job can run (default: 15 minutes; generation
	// runs include remote render polling, which is slow)
	JobTimeout time.Duration
}

// DefaultQueueConfig returns the configuration used when nothing overrides it
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers: 10,
		MaxRetries: 5,
		JobTimeout: 15 * time.Minute,
	}
}

// GetQueueConfig returns the active queue configuration, honoring
// SHIPNOTES_QUEUE_WORKERS when set
func GetQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()

	if raw := os.Getenv("SHIPNOTES_QUEUE_WORKERS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			config.MaxWorkers = n
		}
	}

	return config
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
