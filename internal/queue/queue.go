// Package queue runs jobs in submission order with a bounded number in
// flight. Every state change happens under one lock; tasks run in their own
// goroutines and report back through the queue.
package queue

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Defaults
const (
	DefaultJobTimeout    = 10 * time.Minute
	DefaultRetention     = time.Hour
	DefaultSweepInterval = time.Minute
)

// DefaultMaxConcurrent leaves a core for the rest of the system and never
// runs more than four encodes at once
func DefaultMaxConcurrent() int {
	return max(1, min(runtime.NumCPU()-1, 4))
}

// Option configures a Queue
type Option func(*settings)

type settings struct {
	maxConcurrent int
	jobTimeout    time.Duration
	retention     time.Duration
	sweepInterval time.Duration
	logger        zerolog.Logger
	now           func() time.Time
}

// WithMaxConcurrent bounds the number of processing jobs. Zero keeps the
// default.
func WithMaxConcurrent(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithJobTimeout sets the default per-job timeout
func WithJobTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// WithRetention sets how long finished jobs are kept
func WithRetention(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithSweepInterval sets how often Run sweeps finished jobs
func WithSweepInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithClock replaces time.Now for timestamps and retention, for tests.
// Timeouts always use real timers.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

type entry[P any] struct {
	job     Job[P]
	task    Task[P]
	timeout time.Duration
	cancel  context.CancelFunc
	timer   *time.Timer
}

type observer[P any] struct {
	id int
	fn Observer[P]
}

// Queue is a bounded FIFO job runner
type Queue[P any] struct {
	settings

	mu        sync.Mutex
	jobs      map[string]*entry[P]
	pending   []string
	active    int
	closed    bool
	observers []observer[P]
	nextObs   int

	// outbox holds events not yet delivered; one dispatch goroutine at a
	// time drains it, outside mu, in publish order.
	outbox      []Event[P]
	dispatching bool
	dispatchers sync.WaitGroup

	running sync.WaitGroup
}

// New creates a queue
func New[P any](opts ...Option) *Queue[P] {
	s := settings{
		maxConcurrent: DefaultMaxConcurrent(),
		jobTimeout:    DefaultJobTimeout,
		retention:     DefaultRetention,
		sweepInterval: DefaultSweepInterval,
		logger:        zerolog.Nop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	s.logger = s.logger.With().Str("component", "queue").Logger()

	return &Queue[P]{
		settings: s,
		jobs:     make(map[string]*entry[P]),
	}
}

// MaxConcurrent returns the concurrency bound
func (q *Queue[P]) MaxConcurrent() int {
	return q.maxConcurrent
}

// AddJob enqueues a job. It starts immediately when a slot is free; the
// returned snapshot reflects that.
func (q *Queue[P]) AddJob(id string, payload P, task Task[P], opts ...JobOption) (Job[P], error) {
	if id == "" {
		return Job[P]{}, fmt.Errorf("job id is required")
	}
	if task == nil {
		return Job[P]{}, fmt.Errorf("job %s has no task", id)
	}

	js := jobSettings{timeout: q.jobTimeout}
	for _, opt := range opts {
		opt(&js)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Job[P]{}, ErrClosed
	}
	if _, exists := q.jobs[id]; exists {
		q.mu.Unlock()
		return Job[P]{}, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}

	e := &entry[P]{
		job: Job[P]{
			ID:        id,
			Payload:   payload,
			Status:    StatusQueued,
			CreatedAt: q.now(),
		},
		task:    task,
		timeout: js.timeout,
	}
	q.jobs[id] = e
	q.pending = append(q.pending, id)

	events := []Event[P]{{Type: EventStatus, Job: e.job}}
	events = append(events, q.schedule()...)
	snapshot := e.job

	q.logger.Debug().Str("job_id", id).Int("pending", len(q.pending)).Msg("job queued")
	q.publish(events...)
	q.mu.Unlock()
	return snapshot, nil
}

// GetJob returns a snapshot of the job
func (q *Queue[P]) GetJob(id string) (Job[P], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[id]
	if !ok {
		return Job[P]{}, false
	}
	return e.job, true
}

// GetAllJobs returns snapshots ordered by creation time, then id
func (q *Queue[P]) GetAllJobs() []Job[P] {
	q.mu.Lock()
	jobs := make([]Job[P], 0, len(q.jobs))
	for _, e := range q.jobs {
		jobs = append(jobs, e.job)
	}
	q.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

// CancelJob cancels a queued or processing job. A queued job is removed
// before its task ever runs; a processing job's context is cancelled and its
// slot freed. It returns false for unknown or finished jobs.
func (q *Queue[P]) CancelJob(id string) bool {
	q.mu.Lock()
	e, ok := q.jobs[id]
	if !ok || e.job.Status.Terminal() {
		q.mu.Unlock()
		return false
	}

	events := q.cancelLocked(e)
	events = append(events, q.schedule()...)

	q.logger.Info().Str("job_id", id).Msg("job cancelled")
	q.publish(events...)
	q.mu.Unlock()
	return true
}

func (q *Queue[P]) cancelLocked(e *entry[P]) []Event[P] {
	switch e.job.Status {
	case StatusQueued:
		q.removePending(e.job.ID)
	case StatusProcessing:
		q.release(e)
	}
	e.job.Status = StatusCancelled
	e.job.ETA = 0
	e.job.EndTime = q.now()
	return []Event[P]{{Type: EventStatus, Job: e.job}}
}

// Subscribe registers an observer and returns the function that removes it.
// Events are delivered asynchronously, one at a time and in the order the
// changes happened. Observers may call back into the queue.
func (q *Queue[P]) Subscribe(fn Observer[P]) func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextObs
	q.nextObs++
	q.observers = append(q.observers, observer[P]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			for i, o := range q.observers {
				if o.id == id {
					q.observers = append(q.observers[:i:i], q.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Sweep drops finished jobs older than the retention window and returns how
// many were removed
func (q *Queue[P]) Sweep() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-q.retention)
	removed := 0
	for id, e := range q.jobs {
		if e.job.Status.Terminal() && e.job.EndTime.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		q.logger.Debug().Int("removed", removed).Msg("swept finished jobs")
	}
	return removed
}

// Run sweeps periodically until ctx is done
func (q *Queue[P]) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			q.Sweep()
		}
	}
}

// Close cancels every unfinished job and waits for running tasks to return.
// Later AddJob calls fail with ErrClosed.
func (q *Queue[P]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.running.Wait()
		return
	}
	q.closed = true

	ids := make([]string, 0, len(q.jobs))
	for id, e := range q.jobs {
		if !e.job.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var events []Event[P]
	for _, id := range ids {
		events = append(events, q.cancelLocked(q.jobs[id])...)
	}

	q.logger.Info().Int("cancelled", len(ids)).Msg("queue closed")
	q.publish(events...)
	q.mu.Unlock()

	q.running.Wait()
	q.dispatchers.Wait()
}

// Stats counts jobs by status
func (q *Queue[P]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, e := range q.jobs {
		switch e.job.Status {
		case StatusQueued:
			s.Queued++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// schedule starts queued jobs while slots are free. Callers hold mu.
func (q *Queue[P]) schedule() []Event[P] {
	var events []Event[P]
	for q.active < q.maxConcurrent && len(q.pending) > 0 && !q.closed {
		id := q.pending[0]
		q.pending = q.pending[1:]

		e, ok := q.jobs[id]
		if !ok || e.job.Status != StatusQueued {
			continue
		}
		events = append(events, q.start(e))
	}
	return events
}

func (q *Queue[P]) start(e *entry[P]) Event[P] {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.job.Status = StatusProcessing
	e.job.StartTime = q.now()
	q.active++

	id := e.job.ID
	if e.timeout > 0 {
		e.timer = time.AfterFunc(e.timeout, func() { q.expire(id) })
	}

	q.logger.Info().
		Str("job_id", id).
		Int("active", q.active).
		Dur("timeout", e.timeout).
		Msg("job started")

	snapshot := e.job
	q.running.Add(1)
	go q.execute(ctx, e.task, snapshot)

	return Event[P]{Type: EventStatus, Job: snapshot}
}

func (q *Queue[P]) execute(ctx context.Context, task Task[P], job Job[P]) {
	defer q.running.Done()

	report := func(u Update) { q.report(job.ID, u) }
	result, err := q.runTask(ctx, task, job, report)
	q.finish(job.ID, result, err)
}

// runTask turns a panicking task into a failed job
func (q *Queue[P]) runTask(ctx context.Context, task Task[P], job Job[P], report Reporter) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx, job, report)
}

func (q *Queue[P]) report(id string, u Update) {
	q.mu.Lock()
	e, ok := q.jobs[id]
	if !ok || e.job.Status != StatusProcessing {
		q.mu.Unlock()
		return
	}

	pct := min(100, max(e.job.Progress, u.Progress))
	changed := pct != e.job.Progress || (u.Stage != "" && u.Stage != e.job.Stage) || u.ETA != e.job.ETA
	e.job.Progress = pct
	if u.Stage != "" {
		e.job.Stage = u.Stage
	}
	e.job.ETA = u.ETA

	if changed {
		q.publish(Event[P]{Type: EventProgress, Job: e.job})
	}
	q.mu.Unlock()
}

// finish records a task's outcome unless the job already ended through
// cancellation or timeout
func (q *Queue[P]) finish(id, result string, err error) {
	q.mu.Lock()
	e, ok := q.jobs[id]
	if !ok || e.job.Status != StatusProcessing {
		q.mu.Unlock()
		return
	}

	q.release(e)
	e.job.EndTime = q.now()
	e.job.ETA = 0
	if err != nil {
		e.job.Status = StatusFailed
		e.job.Error = err.Error()
		if e.job.Error == "" {
			e.job.Error = "task failed"
		}
		q.logger.Error().Str("job_id", id).Err(err).Msg("job failed")
	} else {
		e.job.Status = StatusCompleted
		e.job.Progress = 100
		e.job.Result = result
		q.logger.Info().
			Str("job_id", id).
			Dur("took", e.job.EndTime.Sub(e.job.StartTime)).
			Msg("job completed")
	}

	events := []Event[P]{{Type: EventStatus, Job: e.job}}
	events = append(events, q.schedule()...)
	q.publish(events...)
	q.mu.Unlock()
}

// expire fails a job that is still processing when its timer fires
func (q *Queue[P]) expire(id string) {
	q.mu.Lock()
	e, ok := q.jobs[id]
	if !ok || e.job.Status != StatusProcessing {
		q.mu.Unlock()
		return
	}

	terr := &TimeoutError{JobID: id, Timeout: e.timeout}
	q.release(e)
	e.job.Status = StatusFailed
	e.job.Error = terr.Error()
	e.job.ETA = 0
	e.job.EndTime = q.now()
	q.logger.Warn().Str("job_id", id).Dur("timeout", e.timeout).Msg("job timed out")

	events := []Event[P]{{Type: EventStatus, Job: e.job}}
	events = append(events, q.schedule()...)
	q.publish(events...)
	q.mu.Unlock()
}

// release frees a processing job's slot, timer and context
func (q *Queue[P]) release(e *entry[P]) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.cancel != nil {
		e.cancel()
	}
	q.active--
}

func (q *Queue[P]) removePending(id string) {
	for i, pid := range q.pending {
		if pid == id {
			q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
			return
		}
	}
}

// publish queues events for observers. Callers hold mu.
func (q *Queue[P]) publish(events ...Event[P]) {
	if len(events) == 0 || len(q.observers) == 0 {
		return
	}
	q.outbox = append(q.outbox, events...)
	if !q.dispatching {
		q.dispatching = true
		q.dispatchers.Add(1)
		go q.dispatch()
	}
}

func (q *Queue[P]) dispatch() {
	defer q.dispatchers.Done()
	for {
		q.mu.Lock()
		events := q.outbox
		q.outbox = nil
		if len(events) == 0 {
			q.dispatching = false
			q.mu.Unlock()
			return
		}
		observers := append([]observer[P](nil), q.observers...)
		q.mu.Unlock()

		for _, ev := range events {
			for _, o := range observers {
				o.fn(ev)
			}
		}
	}
}
