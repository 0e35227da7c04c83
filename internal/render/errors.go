package render

import (
	"errors"
	"fmt"
	"time"
)

// ErrRenderInProgress is returned when a record already has a
// non-terminal render and a second one is requested.
var ErrRenderInProgress = errors.New("a render is already in progress for this record")

// RenderTriggerError means the backend never accepted the render.
type RenderTriggerError struct {
	RecordID int64
	Err      error
}

func (e *RenderTriggerError) Error() string {
	return fmt.Sprintf("failed to trigger render for record %d: %v", e.RecordID, e.Err)
}

func (e *RenderTriggerError) Unwrap() error {
	return e.Err
}

// RenderTimeoutError means the poll loop hit its ceiling before the
// backend reached a terminal status.
type RenderTimeoutError struct {
	RenderID string
	Attempts int
	Interval time.Duration
}

func (e *RenderTimeoutError) Error() string {
	return fmt.Sprintf("render %s did not finish within %d polls at %v intervals", e.RenderID, e.Attempts, e.Interval)
}
