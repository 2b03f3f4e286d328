// Package compiler turns a composition into a single ffmpeg invocation: the
// inputs, a labeled filter graph and the output mapping. Compilation is pure
// and deterministic; the same composition and options always produce the
// same arguments.
package compiler

import (
	"fmt"

	"github.com/keagan/reelforge/internal/ffmpeg"
	"github.com/keagan/reelforge/internal/timeline"
	"github.com/rs/zerolog"
)

// CompilationError reports a broken graph invariant. Validated compositions
// never produce one; seeing it means a bug in the compiler.
type CompilationError struct {
	Stage  string
	Reason string
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compile %s: %s", e.Stage, e.Reason)
}

// Compiler builds ffmpeg invocations from compositions
type Compiler struct {
	logger zerolog.Logger
	preset string
	crf    int
}

// Option configures a Compiler
type Option func(*Compiler)

// WithPreset sets the software encoder preset
func WithPreset(preset string) Option {
	return func(c *Compiler) {
		if preset != "" {
			c.preset = preset
		}
	}
}

// WithCRF sets the constant rate factor
func WithCRF(crf int) Option {
	return func(c *Compiler) {
		if crf > 0 {
			c.crf = crf
		}
	}
}

// New creates a compiler
func New(logger zerolog.Logger, opts ...Option) *Compiler {
	c := &Compiler{
		logger: logger.With().Str("component", "compiler").Logger(),
		preset: ffmpeg.DefaultPreset,
		crf:    ffmpeg.DefaultCRF,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile builds the invocation for a resolved composition. The composition
// is not modified. Clips whose source is neither an image nor a video are
// skipped with a warning.
func (c *Compiler) Compile(comp *timeline.Composition, opts timeline.CompilerOptions) (*Invocation, error) {
	if comp == nil {
		return nil, &CompilationError{Stage: "input", Reason: "composition is nil"}
	}

	b := newBuild(c, comp, opts)
	inv, err := b.run()
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("composition", comp.ID).
		Int("inputs", len(inv.Inputs)).
		Int("nodes", len(inv.Graph)).
		Float64("duration", inv.Duration).
		Bool("audio", inv.AudioLabel != "").
		Msg("composition compiled")

	return inv, nil
}
