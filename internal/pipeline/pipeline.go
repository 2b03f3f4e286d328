// Package pipeline is the submission API: it validates compositions, queues
// render jobs and runs each one through compile, encode and progress
// tracking.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/reelforge/internal/compiler"
	"github.com/keagan/reelforge/internal/config"
	"github.com/keagan/reelforge/internal/hwaccel"
	"github.com/keagan/reelforge/internal/metrics"
	"github.com/keagan/reelforge/internal/progress"
	"github.com/keagan/reelforge/internal/queue"
	"github.com/keagan/reelforge/internal/timeline"
	"github.com/keagan/reelforge/pkg/util"
	"github.com/rs/zerolog"
)

// Pipeline orchestrates render jobs
type Pipeline struct {
	logger   zerolog.Logger
	config   *config.Config
	deps     Deps
	compiler *compiler.Compiler
	selector *hwaccel.Selector
	queue    *queue.Queue[*Render]

	unsubscribe func()
}

// New creates a new pipeline instance
func New(logger zerolog.Logger, cfg *config.Config, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if deps.Starter == nil {
		return nil, fmt.Errorf("no encoder starter configured")
	}

	p := &Pipeline{
		logger: logger.With().Str("component", "pipeline").Logger(),
		config: cfg,
		deps:   deps,
		compiler: compiler.New(logger,
			compiler.WithPreset(cfg.FFmpeg.Preset),
			compiler.WithCRF(cfg.FFmpeg.CRF),
		),
		selector: hwaccel.NewSelector(logger, deps.Lister, hwaccel.DefaultTTL, cfg.FFmpeg.DetectTimeout),
		queue: queue.New[*Render](
			queue.WithMaxConcurrent(cfg.Queue.MaxConcurrent),
			queue.WithJobTimeout(cfg.Queue.JobTimeout),
			queue.WithRetention(cfg.Queue.Retention),
			queue.WithSweepInterval(cfg.Queue.SweepInterval),
			queue.WithLogger(logger),
		),
	}
	p.unsubscribe = p.queue.Subscribe(p.observe)

	p.logger.Debug().
		Int("max_concurrent", p.queue.MaxConcurrent()).
		Bool("hwaccel", cfg.FFmpeg.HardwareAcceleration).
		Msg("pipeline ready")

	return p, nil
}

// Submit validates and resolves a composition, then queues it for rendering.
// Problems with the composition come back as *timeline.ConfigurationError
// before any job exists.
func (p *Pipeline) Submit(ctx context.Context, comp *timeline.Composition, opts timeline.CompilerOptions) (string, error) {
	render, err := p.prepare(ctx, comp, opts)
	if err != nil {
		return "", err
	}

	var jobOpts []queue.JobOption
	if opts.TimeoutSeconds > 0 {
		jobOpts = append(jobOpts, queue.WithTimeout(time.Duration(opts.TimeoutSeconds)*time.Second))
	}

	id := render.Composition.ID
	job, err := p.queue.AddJob(id, render, p.render, jobOpts...)
	if err != nil {
		return "", fmt.Errorf("failed to queue render: %w", err)
	}

	p.logger.Info().
		Str("job_id", id).
		Str("status", string(job.Status)).
		Str("output", render.Composition.OutputPath).
		Msg("render submitted")

	return id, nil
}

// Compile resolves, validates and compiles a composition without queueing
// it. Hardware acceleration is applied when requested, so the result is the
// command a render would run.
func (p *Pipeline) Compile(ctx context.Context, comp *timeline.Composition, opts timeline.CompilerOptions) (*compiler.Invocation, error) {
	render, err := p.prepare(ctx, comp, opts)
	if err != nil {
		return nil, err
	}
	inv, err := p.compile(render)
	if err != nil {
		return nil, err
	}
	return p.accelerate(ctx, render, inv), nil
}

// Status returns a job snapshot
func (p *Pipeline) Status(id string) (Job, bool) {
	return p.queue.GetJob(id)
}

// Jobs returns every job still retained, oldest first
func (p *Pipeline) Jobs() []Job {
	return p.queue.GetAllJobs()
}

// Stats counts jobs by status
func (p *Pipeline) Stats() queue.Stats {
	return p.queue.Stats()
}

// Cancel stops a job. It returns false when the job is unknown or already
// finished.
func (p *Pipeline) Cancel(id string) bool {
	return p.queue.CancelJob(id)
}

// SubscribeProgress calls fn with a snapshot of job id after each change,
// until the returned function is called. It fails with queue.ErrNotFound when
// the job is unknown.
func (p *Pipeline) SubscribeProgress(id string, fn func(Job)) (func(), error) {
	if _, ok := p.queue.GetJob(id); !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrNotFound, id)
	}
	return p.queue.Subscribe(func(ev queue.Event[*Render]) {
		if ev.Job.ID == id {
			fn(ev.Job)
		}
	}), nil
}

// Wait blocks until job id reaches a terminal state or ctx is done
func (p *Pipeline) Wait(ctx context.Context, id string) (Job, error) {
	done := make(chan Job, 1)
	unsubscribe, err := p.SubscribeProgress(id, func(job Job) {
		if job.Status.Terminal() {
			select {
			case done <- job:
			default:
			}
		}
	})
	if err != nil {
		return Job{}, err
	}
	defer unsubscribe()

	// the job may have finished before the subscription took effect
	if job, ok := p.queue.GetJob(id); ok && job.Status.Terminal() {
		return job, nil
	}

	select {
	case job := <-done:
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// HWAccel returns the cached hardware vendor without probing
func (p *Pipeline) HWAccel() (hwaccel.Vendor, bool) {
	return p.selector.Peek()
}

// DetectHWAccel probes for a hardware encoder and caches the result
func (p *Pipeline) DetectHWAccel(ctx context.Context) hwaccel.Vendor {
	v := p.selector.Refresh(ctx)
	metrics.SetVendor(string(v), vendorNames())
	return v
}

// Run sweeps finished jobs until ctx is done
func (p *Pipeline) Run(ctx context.Context) error {
	return p.queue.Run(ctx)
}

// Close cancels outstanding jobs and waits for their encoders to stop
func (p *Pipeline) Close() error {
	p.queue.Close()
	p.unsubscribe()
	return nil
}

// prepare fills in the id and output path, validates and resolves assets
func (p *Pipeline) prepare(ctx context.Context, comp *timeline.Composition, opts timeline.CompilerOptions) (*Render, error) {
	if comp == nil {
		return nil, &timeline.ConfigurationError{Reason: "composition is nil"}
	}

	comp = comp.Clone()
	if comp.ID == "" {
		comp.ID = uuid.NewString()
	}
	if comp.OutputPath == "" {
		format := comp.Output.WithDefaults().Format
		comp.OutputPath = filepath.Join(p.config.OutputDir, comp.ID+"."+format)
	}

	if err := timeline.Validate(comp, opts); err != nil {
		return nil, err
	}

	resolved, resolvedOpts, err := timeline.Resolve(ctx, comp, opts, p.deps.Resolver)
	if err != nil {
		return nil, err
	}

	return &Render{Composition: resolved, Options: resolvedOpts}, nil
}

func (p *Pipeline) compile(r *Render) (*compiler.Invocation, error) {
	start := time.Now()
	inv, err := p.compiler.Compile(r.Composition, r.Options)
	metrics.CompileDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CompileErrors.Inc()
		return nil, err
	}
	return inv, nil
}

func (p *Pipeline) accelerate(ctx context.Context, r *Render, inv *compiler.Invocation) *compiler.Invocation {
	if !r.Options.UseHardwareAcceleration && !p.config.FFmpeg.HardwareAcceleration {
		return inv
	}
	vendor := p.selector.Get(ctx)
	metrics.SetVendor(string(vendor), vendorNames())
	return hwaccel.Apply(inv, vendor)
}

// render is the queue task for one job
func (p *Pipeline) render(ctx context.Context, job Job, report queue.Reporter) (string, error) {
	logger := p.logger.With().Str("job_id", job.ID).Logger()

	inv, err := p.compile(job.Payload)
	if err != nil {
		return "", err
	}
	inv = p.accelerate(ctx, job.Payload, inv)
	for _, w := range inv.Warnings {
		logger.Warn().Msg(w)
	}

	if err := util.EnsureParentDir(inv.OutputPath); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	proc, err := p.deps.Starter.Start(ctx, inv.Args())
	if err != nil {
		return "", fmt.Errorf("failed to start encoder: %w", err)
	}

	logger.Info().
		Str("codec", inv.Encoding.VideoCodec).
		Float64("duration", inv.Duration).
		Msg("encoding started")

	sub := progress.Attach(proc, inv.Duration,
		progress.WithInterval(p.config.Progress.Interval),
		progress.WithLogger(logger),
	)

	go func() {
		select {
		case <-ctx.Done():
			if err := sub.Cancel(); err != nil {
				logger.Debug().Err(err).Msg("failed to stop encoder")
			}
		case <-sub.Done():
		}
	}()

	for ev := range sub.Events() {
		if ev.Type != progress.EventProgress {
			continue
		}
		report(queue.Update{
			Progress: ev.Snapshot.Progress,
			Stage:    ev.Snapshot.Stage,
			ETA:      ev.Snapshot.ETA,
		})
	}
	<-sub.Done()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := sub.Err(); err != nil {
		return "", err
	}
	if !util.NonEmptyFile(inv.OutputPath) {
		return "", errors.New("encoder exited cleanly but wrote no output to " + inv.OutputPath)
	}

	logger.Info().
		Str("output", inv.OutputPath).
		Dur("elapsed", sub.Latest().Elapsed).
		Msg("encoding finished")

	return inv.OutputPath, nil
}

// observe feeds queue events into metrics
func (p *Pipeline) observe(ev queue.Event[*Render]) {
	if ev.Type != queue.EventStatus {
		return
	}

	stats := p.queue.Stats()
	metrics.JobsQueued.Set(float64(stats.Queued))
	metrics.JobsActive.Set(float64(stats.Processing))

	job := ev.Job
	if !job.Status.Terminal() {
		return
	}
	metrics.JobsTotal.WithLabelValues(string(job.Status)).Inc()
	if !job.StartTime.IsZero() {
		metrics.RenderDuration.Observe(job.EndTime.Sub(job.StartTime).Seconds())
	}

	event := p.logger.Info()
	if job.Status == queue.StatusFailed {
		event = p.logger.Error().Str("error", job.Error)
	}
	event.Str("job_id", job.ID).Str("status", string(job.Status)).Msg("render finished")
}

func vendorNames() []string {
	names := make([]string, len(hwaccel.Vendors))
	for i, v := range hwaccel.Vendors {
		names[i] = string(v)
	}
	return names
}
