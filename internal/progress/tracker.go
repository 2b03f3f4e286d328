// Package progress follows a running encoder and turns its progress stream
// into throttled snapshots with a completion percentage and an ETA.
package progress

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Process is a running encoder. Progress carries key=value reports and
// Diagnostics the human-readable log. Both are read to EOF before Wait.
type Process interface {
	Progress() io.Reader
	Diagnostics() io.Reader
	Wait() error
	Terminate() error
}

// Stage labels
const (
	StageStarting   = "starting"
	StageEncoding   = "encoding"
	StageFinalizing = "finalizing"
	StageCompleted  = "completed"
	StageFailed     = "failed"
	StageCancelled  = "cancelled"
)

// EventType identifies a tracker event
type EventType string

const (
	EventProgress  EventType = "progress"
	EventEnd       EventType = "end"
	EventError     EventType = "error"
	EventCancelled EventType = "cancelled"
)

// DefaultInterval is the minimum spacing between progress events
const DefaultInterval = 500 * time.Millisecond

const (
	diagnosticsTail = 8 << 10
	maxLine         = 1 << 20

	// reserved keeps room in the event buffer for the final snapshot and the
	// terminal event
	reserved   = 2
	eventQueue = 16
)

// Snapshot is the state of an encode at one point in time
type Snapshot struct {
	Frame     int64         `json:"frame"`
	FPS       float64       `json:"fps"`
	Bitrate   string        `json:"bitrate,omitempty"`
	TotalSize int64         `json:"total_size"`
	OutTime   float64       `json:"out_time"`
	Speed     float64       `json:"speed"`
	Elapsed   time.Duration `json:"elapsed"`
	Progress  int           `json:"progress"`
	ETA       time.Duration `json:"eta"`
	HasETA    bool          `json:"has_eta"`
	Stage     string        `json:"stage"`
}

// Event is delivered on a subscription's channel
type Event struct {
	Type     EventType
	Snapshot Snapshot
	Err      error
}

// ProcessError reports an encoder that exited nonzero
type ProcessError struct {
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("encoder exited with code %d", e.ExitCode)
	if last := lastLines(e.Stderr, 3); last != "" {
		msg += ": " + last
	}
	return msg
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "; ")
}

// Option configures Attach
type Option func(*Subscription)

// WithInterval sets the throttle interval
func WithInterval(d time.Duration) Option {
	return func(s *Subscription) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Subscription) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Subscription) {
		s.logger = logger
	}
}

// Subscription tracks one process from Attach until it exits
type Subscription struct {
	proc     Process
	total    float64
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	events chan Event
	done   chan struct{}

	mu           sync.Mutex
	started      time.Time
	lastEmit     time.Time
	emitted      bool
	snap         Snapshot
	cancelled    bool
	unsubscribed bool
	err          error
	diag         tail
}

// Attach starts tracking proc. total is the expected output length in
// seconds; zero disables percentages until the process ends.
func Attach(proc Process, total float64, opts ...Option) *Subscription {
	s := &Subscription{
		proc:     proc,
		total:    total,
		interval: DefaultInterval,
		now:      time.Now,
		logger:   zerolog.Nop(),
		events:   make(chan Event, eventQueue),
		done:     make(chan struct{}),
		diag:     tail{max: diagnosticsTail},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.now()
	s.snap.Stage = StageStarting

	go s.run()
	return s
}

// Events delivers throttled progress followed by exactly one terminal event,
// then closes
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed once the process has exited and the outcome is known
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the process error after Done. Cancellation is not an error.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Latest returns the most recent snapshot, whether or not it was emitted
func (s *Subscription) Latest() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Diagnostics returns the tail of the encoder's log
func (s *Subscription) Diagnostics() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diag.String()
}

// Cancel terminates the process. The tracker ends with a cancelled event
// instead of an error.
func (s *Subscription) Cancel() error {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return nil
	}
	s.cancelled = true
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	default:
	}
	return s.proc.Terminate()
}

// Unsubscribe stops event delivery. The process is still drained so it can
// exit, and Done, Err and Latest keep working.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = true
}

func (s *Subscription) run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readProgress(s.proc.Progress())
	}()
	go func() {
		defer wg.Done()
		s.readDiagnostics(s.proc.Diagnostics())
	}()
	wg.Wait()

	s.finish(s.proc.Wait())
}

func (s *Subscription) readProgress(r io.Reader) {
	if r == nil {
		return
	}
	var p parser
	scanner := newScanner(r)
	for scanner.Scan() {
		if report, ok := p.line(scanner.Text()); ok {
			s.update(report)
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug().Err(err).Msg("progress stream read failed")
		io.Copy(io.Discard, r)
	}
}

func (s *Subscription) readDiagnostics(r io.Reader) {
	if r == nil {
		return
	}
	scanner := newScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if stats, ok := parseStats(line); ok {
			s.update(stats)
			continue
		}
		s.mu.Lock()
		s.diag.add(line)
		s.mu.Unlock()
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug().Err(err).Msg("diagnostics stream read failed")
		io.Copy(io.Discard, r)
	}
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLine)
	scanner.Split(scanLines)
	return scanner
}

// update merges a report into the snapshot and emits it unless throttled
func (s *Subscription) update(in sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	snap := s.snap
	if in.frame > 0 {
		snap.Frame = in.frame
	}
	if in.fps > 0 {
		snap.FPS = in.fps
	}
	if in.bitrate != "" {
		snap.Bitrate = in.bitrate
	}
	if in.totalSize > 0 {
		snap.TotalSize = in.totalSize
	}
	if in.hasTime && in.outTime > snap.OutTime {
		snap.OutTime = in.outTime
	}
	if in.speed > 0 {
		snap.Speed = in.speed
	}
	snap.Elapsed = now.Sub(s.started)

	pct := percent(snap.OutTime, s.total)
	if in.end {
		pct = 100
		snap.Stage = StageFinalizing
	} else if snap.Stage == StageStarting && (snap.Frame > 0 || snap.OutTime > 0) {
		snap.Stage = StageEncoding
	}
	snap.Progress = max(snap.Progress, pct)
	snap.ETA, snap.HasETA = eta(snap.Elapsed, snap.Progress)
	s.snap = snap

	if s.emitted && now.Sub(s.lastEmit) < s.interval {
		return
	}
	if s.send(Event{Type: EventProgress, Snapshot: snap}, false) {
		s.emitted = true
		s.lastEmit = now
	}
}

// finish records the outcome and delivers the terminal events
func (s *Subscription) finish(waitErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snap
	snap.Elapsed = s.now().Sub(s.started)

	var ev Event
	switch {
	case s.cancelled:
		snap.Stage = StageCancelled
		snap.HasETA = false
		ev = Event{Type: EventCancelled}
	case waitErr == nil:
		snap.Stage = StageCompleted
		snap.Progress = 100
		snap.ETA, snap.HasETA = 0, true
		s.send(Event{Type: EventProgress, Snapshot: snap}, true)
		ev = Event{Type: EventEnd}
	default:
		snap.Stage = StageFailed
		snap.HasETA = false
		s.err = &ProcessError{ExitCode: exitCode(waitErr), Stderr: s.diag.String()}
		ev = Event{Type: EventError, Err: s.err}
		s.logger.Debug().Err(waitErr).Msg("encoder failed")
	}

	s.snap = snap
	ev.Snapshot = snap
	s.send(ev, true)
	close(s.events)
	close(s.done)
}

// send delivers without blocking. Progress events never use the slots
// reserved for the terminal ones; a full buffer drops the update.
func (s *Subscription) send(ev Event, final bool) bool {
	if s.unsubscribed {
		return false
	}
	if !final && len(s.events) >= cap(s.events)-reserved {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func percent(out, total float64) int {
	if total <= 0 || out <= 0 {
		return 0
	}
	return int(math.Min(100, math.Round(out/total*100)))
}

func eta(elapsed time.Duration, pct int) (time.Duration, bool) {
	if pct <= 0 {
		return 0, false
	}
	return time.Duration(float64(elapsed) / float64(pct) * float64(100-pct)), true
}

func exitCode(err error) int {
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}
