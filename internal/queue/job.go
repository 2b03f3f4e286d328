package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a job
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the job can no longer change
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is a snapshot of one unit of work. Snapshots are copies; changing one
// does not affect the queue.
type Job[P any] struct {
	ID      string `json:"id"`
	Payload P      `json:"-"`

	Status   Status        `json:"status"`
	Progress int           `json:"progress"`
	Stage    string        `json:"stage,omitempty"`
	ETA      time.Duration `json:"eta,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`

	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Update is a progress report from a running task
type Update struct {
	Progress int
	Stage    string
	ETA      time.Duration
}

// Reporter forwards progress from a task to the queue. Reports that would move
// progress backwards, or that arrive once the job has ended, are ignored.
type Reporter func(Update)

// Task does the work for a job. The context is cancelled when the job is
// cancelled, times out or the queue closes. The returned string becomes the
// job's Result.
type Task[P any] func(ctx context.Context, job Job[P], report Reporter) (string, error)

// EventType distinguishes observer events
type EventType string

const (
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
)

// Event is delivered to observers after every state change
type Event[P any] struct {
	Type EventType
	Job  Job[P]
}

// Observer receives queue events
type Observer[P any] func(Event[P])

// Stats counts jobs by state
type Stats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

var (
	ErrNotFound  = errors.New("job not found")
	ErrClosed    = errors.New("queue is closed")
	ErrDuplicate = errors.New("job already exists")
)

// TimeoutError marks a job that ran longer than its timeout
type TimeoutError struct {
	JobID   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %s", e.JobID, e.Timeout)
}

// JobOption adjusts a single job
type JobOption func(*jobSettings)

type jobSettings struct {
	timeout time.Duration
}

// WithTimeout overrides the queue's job timeout for one job
func WithTimeout(d time.Duration) JobOption {
	return func(s *jobSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}
