package compiler

import (
	"fmt"
	"strings"

	"github.com/keagan/reelforge/pkg/util"
)

// Input is one -i argument with its per-input flags
type Input struct {
	Path string

	// Loop repeats a still image indefinitely (-loop 1); the graph trims it.
	Loop bool

	// StreamLoop replays a media file endlessly (-stream_loop -1).
	StreamLoop bool
}

// Args renders the input flags followed by -i
func (in Input) Args() []string {
	var args []string
	if in.Loop {
		args = append(args, "-loop", "1")
	}
	if in.StreamLoop {
		args = append(args, "-stream_loop", "-1")
	}
	return append(args, "-i", in.Path)
}

// Node is one filter graph entry: labeled inputs, a filter chain and labeled
// outputs
type Node struct {
	Inputs  []string
	Filter  string
	Outputs []string
}

func (n Node) String() string {
	var b strings.Builder
	for _, in := range n.Inputs {
		b.WriteString("[" + in + "]")
	}
	b.WriteString(n.Filter)
	for _, out := range n.Outputs {
		b.WriteString("[" + out + "]")
	}
	return b.String()
}

// Encoding holds the output encoder flags
type Encoding struct {
	VideoCodec string
	Preset     string

	// QualityFlag is the rate-control flag for Quality, e.g. -crf or -cq.
	QualityFlag string
	Quality     int

	VideoBitrate string
	AudioCodec   string
	AudioBitrate string
	FrameRate    float64
	PixelFormat  string
	Format       string
	ExtraArgs    []string
}

// Args renders the encoder flags. Audio flags are omitted when there is no
// audio output.
func (e Encoding) Args(withAudio bool) []string {
	args := []string{"-c:v", e.VideoCodec}
	if e.Preset != "" {
		args = append(args, "-preset", e.Preset)
	}
	if e.QualityFlag != "" {
		args = append(args, e.QualityFlag, fmt.Sprintf("%d", e.Quality))
	}
	if e.VideoBitrate != "" {
		args = append(args, "-maxrate", e.VideoBitrate, "-bufsize", e.VideoBitrate)
	}
	if e.FrameRate > 0 {
		args = append(args, "-r", util.FormatSeconds(e.FrameRate))
	}
	if e.PixelFormat != "" {
		args = append(args, "-pix_fmt", e.PixelFormat)
	}
	if withAudio {
		args = append(args, "-c:a", e.AudioCodec)
		if e.AudioBitrate != "" {
			args = append(args, "-b:a", e.AudioBitrate)
		}
	}
	return append(args, e.ExtraArgs...)
}

// Invocation is a complete, deterministic ffmpeg command line
type Invocation struct {
	GlobalArgs []string
	Inputs     []Input
	Graph      []Node

	VideoLabel string
	// AudioLabel is empty when the output has no audio.
	AudioLabel string

	Encoding   Encoding
	Duration   float64
	OutputPath string

	// Warnings lists clips that were skipped while compiling.
	Warnings []string
}

// FilterComplex joins the graph into a -filter_complex argument
func (inv *Invocation) FilterComplex() string {
	parts := make([]string, len(inv.Graph))
	for i, n := range inv.Graph {
		parts[i] = n.String()
	}
	return strings.Join(parts, ";")
}

// Args returns the ffmpeg arguments, excluding the binary and the progress
// flags added by the executor
func (inv *Invocation) Args() []string {
	args := append([]string(nil), inv.GlobalArgs...)
	for _, in := range inv.Inputs {
		args = append(args, in.Args()...)
	}

	args = append(args, "-filter_complex", inv.FilterComplex())
	args = append(args, "-map", "["+inv.VideoLabel+"]")
	if inv.AudioLabel != "" {
		args = append(args, "-map", "["+inv.AudioLabel+"]")
	} else {
		args = append(args, "-an")
	}

	args = append(args, inv.Encoding.Args(inv.AudioLabel != "")...)
	args = append(args, "-t", util.FormatSeconds(inv.Duration))

	switch inv.Encoding.Format {
	case "mp4", "mov", "m4v":
		args = append(args, "-movflags", "+faststart")
	}
	if inv.Encoding.Format != "" {
		args = append(args, "-f", inv.Encoding.Format)
	}

	return append(args, inv.OutputPath)
}

// String renders the command line with shell quoting, for dry runs
func (inv *Invocation) String() string {
	args := inv.Args()
	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, "ffmpeg")
	for _, a := range args {
		quoted = append(quoted, shellQuote(a))
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`;&|<>()[]*?!#~=,{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Clone returns a deep copy
func (inv *Invocation) Clone() *Invocation {
	out := *inv
	out.GlobalArgs = append([]string(nil), inv.GlobalArgs...)
	out.Inputs = append([]Input(nil), inv.Inputs...)
	out.Graph = make([]Node, len(inv.Graph))
	for i, n := range inv.Graph {
		out.Graph[i] = Node{
			Inputs:  append([]string(nil), n.Inputs...),
			Filter:  n.Filter,
			Outputs: append([]string(nil), n.Outputs...),
		}
	}
	out.Encoding.ExtraArgs = append([]string(nil), inv.Encoding.ExtraArgs...)
	out.Warnings = append([]string(nil), inv.Warnings...)
	return &out
}
