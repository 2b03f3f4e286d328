package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

// killGrace is how long ffmpeg gets to finalize after an interrupt before it
// is killed
const killGrace = 5 * time.Second

// Executor launches ffmpeg and ffprobe
type Executor struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	threads     int
}

// New creates a new ffmpeg executor
func New(logger zerolog.Logger, opts Options) (*Executor, error) {
	ffmpegPath, err := Locate("ffmpeg", opts.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	ffprobePath, err := Locate("ffprobe", opts.ProbePath)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}

	return &Executor{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		threads:     opts.Threads,
	}, nil
}

// BinaryPath returns the resolved ffmpeg path
func (e *Executor) BinaryPath() string {
	return e.ffmpegPath
}

// baseArgs are prepended to every render. Progress goes to stdout as
// key=value lines; stderr keeps the human-readable diagnostics.
func (e *Executor) baseArgs() []string {
	args := []string{"-y", "-hide_banner", "-nostdin", "-loglevel", "info", "-progress", "pipe:1", "-stats_period", "0.5"}
	if e.threads > 0 {
		args = append(args, "-threads", fmt.Sprintf("%d", e.threads))
	}
	return args
}

// Start launches ffmpeg with args and returns the running process. Cancelling
// ctx interrupts ffmpeg and kills it if it has not exited after a grace period.
func (e *Executor) Start(ctx context.Context, args []string) (*Process, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no arguments provided")
	}

	full := append(e.baseArgs(), args...)

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", full).
		Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, full...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = killGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	e.logger.Debug().Int("pid", cmd.Process.Pid).Msg("ffmpeg started")

	return &Process{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// Encoders returns the output of `ffmpeg -encoders`
func (e *Executor) Encoders(ctx context.Context) (string, error) {
	out, err := e.output(ctx, e.ffmpegPath, "-hide_banner", "-encoders")
	if err != nil {
		return "", fmt.Errorf("failed to list encoders: %w", err)
	}
	return string(out), nil
}

func (e *Executor) output(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, err
	}
	return out, nil
}
