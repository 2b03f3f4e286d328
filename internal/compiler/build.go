package compiler

import (
	"fmt"

	"github.com/keagan/reelforge/internal/ffmpeg/filter"
	"github.com/keagan/reelforge/internal/timeline"
)

// build holds the state of a single compilation. Bookkeeping about clips
// lives in side tables keyed by clip id; the composition is never mutated.
type build struct {
	c    *Compiler
	comp *timeline.Composition
	opts timeline.CompilerOptions
	out  timeline.OutputSettings

	seq   timeline.Sequence
	total float64

	inputs     []Input
	inputIndex map[string]int

	// uses counts consumers per input stream ("0:v"); streams consumed more
	// than once get a split node at the end.
	uses map[string]int

	nodes []Node

	// clipAudio maps a clip id to the label of its trimmed audio segment;
	// audioOrder keeps registration order for deterministic mixing.
	clipAudio  map[string]string
	audioOrder []string

	warnings []string
}

func newBuild(c *Compiler, comp *timeline.Composition, opts timeline.CompilerOptions) *build {
	return &build{
		c:          c,
		comp:       timeline.Normalize(comp),
		opts:       opts,
		inputIndex: make(map[string]int),
		uses:       make(map[string]int),
		clipAudio:  make(map[string]string),
	}
}

func (b *build) run() (*Invocation, error) {
	b.out = b.comp.Output
	b.prune()

	b.seq = timeline.Plan(b.comp, b.opts)
	b.total = timeline.TotalDuration(b.comp, b.opts)
	if b.total <= 0 {
		return nil, &CompilationError{Stage: "duration", Reason: "total duration is not positive"}
	}

	video := b.mainSequence()
	video = b.applyOverlays(video)
	video = b.applyText(video)
	audio := b.routeAudio()

	b.fanOut()
	if err := b.verify(video, audio); err != nil {
		return nil, err
	}

	return &Invocation{
		Inputs:     b.inputs,
		Graph:      b.nodes,
		VideoLabel: video,
		AudioLabel: audio,
		Encoding:   b.encoding(),
		Duration:   b.total,
		OutputPath: b.comp.OutputPath,
		Warnings:   b.warnings,
	}, nil
}

// prune drops clips the encoder cannot draw before anything is laid out, so
// the remaining sequence stays contiguous
func (b *build) prune() {
	kept := b.comp.Clips[:0:0]
	for _, clip := range b.comp.Clips {
		switch src := clip.Source.(type) {
		case timeline.ImageSource, timeline.VideoSource:
			kept = append(kept, clip)
		case timeline.UnsupportedSource:
			b.warn(clip, fmt.Sprintf("unsupported %s source", src.Kind))
		default:
			b.warn(clip, "source not resolved")
		}
	}
	b.comp.Clips = kept
}

func (b *build) warn(clip timeline.Clip, reason string) {
	msg := fmt.Sprintf("skipped %s clip %q: %s", clip.Kind, clip.ID, reason)
	b.warnings = append(b.warnings, msg)
	b.c.logger.Warn().
		Str("clip", clip.ID).
		Str("kind", string(clip.Kind)).
		Str("source", timeline.SourcePath(clip.Source)).
		Msg(msg)
}

// register returns the input slot for path, adding it on first use
func (b *build) register(path string, loop, streamLoop bool) int {
	if idx, ok := b.inputIndex[path]; ok {
		b.inputs[idx].Loop = b.inputs[idx].Loop || loop
		b.inputs[idx].StreamLoop = b.inputs[idx].StreamLoop || streamLoop
		return idx
	}
	idx := len(b.inputs)
	b.inputs = append(b.inputs, Input{Path: path, Loop: loop, StreamLoop: streamLoop})
	b.inputIndex[path] = idx
	return idx
}

// registerSource registers a clip's visual source and returns its slot
func (b *build) registerSource(src timeline.Source) int {
	switch s := src.(type) {
	case timeline.ImageSource:
		return b.register(s.Path, true, false)
	case timeline.VideoSource:
		return b.register(s.Path, false, false)
	}
	return -1
}

// stream hands out a label for one consumer of an input stream. The first
// consumer gets the plain "N:v" label; later consumers get split outputs.
func (b *build) stream(idx int, kind string) string {
	key := fmt.Sprintf("%d:%s", idx, kind)
	b.uses[key]++
	if n := b.uses[key]; n > 1 {
		return splitLabel(idx, kind, n)
	}
	return key
}

func splitLabel(idx int, kind string, n int) string {
	return fmt.Sprintf("s%d%s%d", idx, kind, n)
}

func (b *build) node(inputs []string, chain string, output string) string {
	b.nodes = append(b.nodes, Node{Inputs: inputs, Filter: chain, Outputs: []string{output}})
	return output
}

// fanOut prepends split/asplit nodes for streams with several consumers and
// points the first consumer at the first split output
func (b *build) fanOut() {
	var splits []Node
	for idx := range b.inputs {
		for _, kind := range []string{"v", "a"} {
			key := fmt.Sprintf("%d:%s", idx, kind)
			n := b.uses[key]
			if n < 2 {
				continue
			}

			first := splitLabel(idx, kind, 1)
			b.relabelInput(key, first)

			outs := make([]string, n)
			for i := range outs {
				outs[i] = splitLabel(idx, kind, i+1)
			}
			expr := filter.Split(n)
			if kind == "a" {
				expr = filter.ASplit(n)
			}
			splits = append(splits, Node{Inputs: []string{key}, Filter: expr, Outputs: outs})
		}
	}
	b.nodes = append(splits, b.nodes...)
}

func (b *build) relabelInput(from, to string) {
	for i := range b.nodes {
		for j, in := range b.nodes[i].Inputs {
			if in == from {
				b.nodes[i].Inputs[j] = to
				return
			}
		}
	}
}

// verify checks that every label is produced once and consumed once, with
// only the final video and audio labels left unconsumed
func (b *build) verify(video, audio string) error {
	produced := make(map[string]int)
	consumed := make(map[string]int)
	for _, n := range b.nodes {
		for _, out := range n.Outputs {
			produced[out]++
		}
		for _, in := range n.Inputs {
			consumed[in]++
		}
	}

	for _, n := range b.nodes {
		for _, out := range n.Outputs {
			if produced[out] > 1 {
				return &CompilationError{Stage: "graph", Reason: fmt.Sprintf("label %q produced %d times", out, produced[out])}
			}
			final := out == video || out == audio
			if !final && consumed[out] != 1 {
				return &CompilationError{Stage: "graph", Reason: fmt.Sprintf("label %q consumed %d times", out, consumed[out])}
			}
			if final && consumed[out] != 0 {
				return &CompilationError{Stage: "graph", Reason: fmt.Sprintf("output label %q is consumed inside the graph", out)}
			}
		}
		for _, in := range n.Inputs {
			if produced[in] == 0 && !b.isInputStream(in) {
				return &CompilationError{Stage: "graph", Reason: fmt.Sprintf("label %q is never produced", in)}
			}
			if consumed[in] > 1 {
				return &CompilationError{Stage: "graph", Reason: fmt.Sprintf("label %q consumed %d times", in, consumed[in])}
			}
		}
	}

	if video == "" || produced[video] == 0 {
		return &CompilationError{Stage: "output", Reason: "no video output"}
	}
	if audio != "" && produced[audio] == 0 {
		return &CompilationError{Stage: "output", Reason: fmt.Sprintf("audio label %q is never produced", audio)}
	}
	return nil
}

func (b *build) isInputStream(label string) bool {
	var idx int
	var kind string
	if _, err := fmt.Sscanf(label, "%d:%s", &idx, &kind); err != nil {
		return false
	}
	return idx >= 0 && idx < len(b.inputs) && (kind == "v" || kind == "a")
}

func (b *build) encoding() Encoding {
	return Encoding{
		VideoCodec:   b.out.VideoCodec,
		Preset:       b.c.preset,
		QualityFlag:  "-crf",
		Quality:      b.c.crf,
		VideoBitrate: b.out.VideoBitrate,
		AudioCodec:   b.out.AudioCodec,
		AudioBitrate: b.out.AudioBitrate,
		FrameRate:    b.out.FrameRate,
		PixelFormat:  b.out.PixelFormat,
		Format:       b.out.Format,
	}
}
