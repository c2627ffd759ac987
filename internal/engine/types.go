package engine

import (
	"context"
	"time"
)

// Config controls the execution pool.
//
// The dispatcher is trigger-only; execution settings belong here. The app
// layer maps config.engine into this struct.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout is used when Task.Timeout is 0.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks unexecuted once they have waited in the queue
	// longer than this. 0 applies the default; negative disables dropping.
	MaxQueueDelay time.Duration

	// Retry pacing shared by every task that opts into retries.
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Minute
	}
	if c.MaxQueueDelay == 0 {
		c.MaxQueueDelay = 30 * time.Second
	}
	if c.MaxQueueDelay < 0 {
		c.MaxQueueDelay = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	return c
}

// Task is a unit of work executed by the pool.
//
// Done, when set, is invoked exactly once for every accepted task with the
// final result, including stale drops and engine shutdown. It runs on a
// worker goroutine and must not block.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration

	// RetryMax is the number of additional attempts after a failed first run.
	// <= 0 runs the task exactly once.
	RetryMax int

	Run  func(ctx context.Context) error
	Done func(Result)
}

// Result is the final outcome of an accepted task.
type Result struct {
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Attempts   int
	Err        error

	// Stale marks tasks dropped unexecuted because they out-waited MaxQueueDelay.
	Stale bool
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Workers  int `json:"workers"`
	QueueLen int `json:"queue_len"`
	QueueCap int `json:"queue_cap"`
	InFlight int `json:"in_flight"`

	Dropped          uint64 `json:"dropped"`
	DroppedQueueFull uint64 `json:"dropped_queue_full"`
	DroppedStale     uint64 `json:"dropped_stale"`

	DefaultTimeout time.Duration `json:"default_timeout"`
	MaxQueueDelay  time.Duration `json:"max_queue_delay"`
}
