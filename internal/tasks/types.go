// Package tasks runs detached background work whose failures are logged and
// reported on a channel instead of being returned to the caller.
package tasks

import (
	"context"
	"fmt"
	"time"
)

// Task is a unit of detached work.
type Task func(ctx context.Context) error

// TaskError describes a task that finished with an error.
type TaskError struct {
	// Name identifies the task, e.g. "replicate:goals:delete".
	Name string

	// Err is the error the task returned.
	Err error

	// At is when the task finished.
	At time.Time
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Name, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Stats counts tasks seen by a Runner.
type Stats struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
	Running   int64 `json:"running"`
}
