package pipeline

import (
	"context"

	"github.com/keagan/reelforge/internal/assets"
	"github.com/keagan/reelforge/internal/ffmpeg"
	"github.com/keagan/reelforge/internal/hwaccel"
	"github.com/keagan/reelforge/internal/progress"
	"github.com/keagan/reelforge/internal/queue"
	"github.com/keagan/reelforge/internal/timeline"
)

// Render is the payload of a render job: a resolved composition and the
// options it was submitted with
type Render struct {
	Composition *timeline.Composition
	Options     timeline.CompilerOptions
}

// Job is a render job snapshot
type Job = queue.Job[*Render]

// Starter launches an encoder process
type Starter interface {
	Start(ctx context.Context, args []string) (progress.Process, error)
}

// Deps are the pipeline's collaborators
type Deps struct {
	Resolver assets.Resolver
	Starter  Starter

	// Lister is optional; without it hardware acceleration is never used.
	Lister hwaccel.EncoderLister
}

// ExecutorStarter adapts an ffmpeg executor to Starter. It also lists
// encoders, so it can serve as Deps.Lister.
type ExecutorStarter struct {
	*ffmpeg.Executor
}

// Start implements Starter
func (s ExecutorStarter) Start(ctx context.Context, args []string) (progress.Process, error) {
	proc, err := s.Executor.Start(ctx, args)
	if err != nil {
		return nil, err
	}
	return proc, nil
}
