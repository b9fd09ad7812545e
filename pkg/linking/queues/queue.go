// Package queues provides the keyed task queues of the linking pipeline.
//
// A queue holds at most one waiting task per document key. Analysis requests
// for a document that is already waiting are dropped, while a new
// serialization task replaces the one still waiting for the same document.
// Tasks that were handed to a worker are no longer waiting and are never
// touched by later enqueues.
package queues

import (
	"context"
	"errors"
	"time"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
)

// Queue errors.
var (
	ErrQueueEmpty   = errors.New("queue is empty")
	ErrQueueClosed  = errors.New("queue is closed")
	ErrTaskNotFound = errors.New("task not found")
	ErrInvalidTask  = errors.New("invalid task")
)

// EnqueueMode says what to do when a task for the same key is waiting.
type EnqueueMode int

const (
	// KeepExisting leaves the waiting task in place and drops the new one.
	KeepExisting EnqueueMode = iota
	// ReplaceExisting removes the waiting task and appends the new one.
	ReplaceExisting
)

// EnqueueResult reports what Enqueue did.
type EnqueueResult struct {
	Added      bool `json:"added"`
	Superseded bool `json:"superseded"`
}

// Queue is an unbounded FIFO of tasks keyed by document.
type Queue interface {
	// Name returns the queue name.
	Name() string

	// Enqueue appends task unless a task for the same key is waiting, in
	// which case mode decides.
	Enqueue(ctx context.Context, task *Task, mode EnqueueMode) (EnqueueResult, error)

	// Dequeue removes the oldest waiting task, blocking up to timeout.
	// Returns ErrQueueEmpty when nothing arrived in time.
	Dequeue(ctx context.Context, timeout time.Duration) (*Task, error)

	// Ack marks a dequeued task as finished.
	Ack(ctx context.Context, taskID string) error

	// Claimed reports whether a task for key was dequeued and not yet
	// acknowledged. Dequeue moves a task from waiting to claimed in one step.
	Claimed(ctx context.Context, key model.DocumentKey) (bool, error)

	// RemoveByKey drops the waiting task for key. Returns false when none
	// was waiting.
	RemoveByKey(ctx context.Context, key model.DocumentKey) (bool, error)

	// Position returns the 1-based position of key's waiting task, 0 when
	// none is waiting, and the number of waiting tasks.
	Position(ctx context.Context, key model.DocumentKey) (position, size int, err error)

	// Depth returns the number of waiting tasks.
	Depth(ctx context.Context) (int64, error)

	// Stats returns queue counters.
	Stats(ctx context.Context) (Stats, error)

	// Close wakes blocked consumers and rejects further calls. It returns
	// the keys of waiting tasks that were discarded, if the backend drops
	// them.
	Close() ([]model.DocumentKey, error)
}

// Stats describes a queue.
type Stats struct {
	Name       string `json:"name"`
	Depth      int64  `json:"depth"`
	Processing int64  `json:"processing"`
	Enqueued   int64  `json:"enqueued"`
	Duplicates int64  `json:"duplicates"`
	Superseded int64  `json:"superseded"`
	Removed    int64  `json:"removed"`
}

// Config configures a queue.
type Config struct {
	Name string `yaml:"name"`
	// PollInterval is how often a blocked Dequeue polls a backend that
	// cannot push notifications.
	PollInterval time.Duration `yaml:"poll_interval"`
	// VisibilityTimeout is how long a dequeued task may stay unacknowledged
	// before RecoverStale puts it back.
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
}

// Queue names.
const (
	NameAnalysis      = "linking:analysis"
	NameSerialization = "linking:serialization"
)

// DefaultConfigs returns the configuration of both pipeline queues.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		NameAnalysis: {
			Name:              NameAnalysis,
			PollInterval:      100 * time.Millisecond,
			VisibilityTimeout: 10 * time.Minute,
		},
		NameSerialization: {
			Name:              NameSerialization,
			PollInterval:      100 * time.Millisecond,
			VisibilityTimeout: 10 * time.Minute,
		},
	}
}
