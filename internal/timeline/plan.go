package timeline

import "math"

// Join describes how a main clip connects to the one before it
type Join int

const (
	JoinNone Join = iota
	JoinConcat
	JoinCrossfade
)

// Segment is a main clip placed on the output timeline
type Segment struct {
	Clip Clip

	// Offset is where the clip starts in the output.
	Offset float64

	// Join and Crossfade describe the connection to the previous segment.
	Join      Join
	Crossfade float64

	// Display is how long the clip is visible before the next segment
	// starts blending over it.
	Display float64
}

// Sequence is the laid-out main sequence
type Sequence struct {
	Segments []Segment
	Duration float64
}

// Plan lays out the main sequence. Adjacent clips are crossfaded when the
// crossfade is positive and either advanced transitions are requested or the
// pair crosses a role boundary (intro to content, content to outro); all other
// pairs are concatenated. Every crossfade used shortens the sequence by its
// length.
func Plan(comp *Composition, opts CompilerOptions) Sequence {
	main := comp.MainClips()
	seq := Sequence{Segments: make([]Segment, 0, len(main))}
	xf := comp.Crossfade()

	end := 0.0
	for i, clip := range main {
		seg := Segment{Clip: clip, Join: JoinNone}
		if i > 0 {
			prev := main[i-1]
			seg.Join = JoinConcat
			if xf > 0 && (opts.UseAdvancedTransitions || prev.Kind != clip.Kind) {
				seg.Join = JoinCrossfade
				seg.Crossfade = math.Min(xf, math.Min(prev.Duration, clip.Duration))
			}
		}
		seg.Offset = end - seg.Crossfade
		end = seg.Offset + clip.Duration
		seq.Segments = append(seq.Segments, seg)
	}

	for i := range seq.Segments {
		seq.Segments[i].Display = seq.Segments[i].Clip.Duration
		if i+1 < len(seq.Segments) {
			seq.Segments[i].Display -= seq.Segments[i+1].Crossfade
		}
	}

	seq.Duration = end
	return seq
}

// Crossfades counts the crossfade joins in the sequence
func (s Sequence) Crossfades() int {
	n := 0
	for _, seg := range s.Segments {
		if seg.Join == JoinCrossfade {
			n++
		}
	}
	return n
}

// TotalDuration returns the duration the encoder output is capped to. An
// explicit composition duration wins; otherwise the main sequence decides.
// Without a main sequence the latest bounded overlay, caption or audio track
// end is used, and zero means the duration cannot be determined.
func TotalDuration(comp *Composition, opts CompilerOptions) float64 {
	if comp.Duration > 0 {
		return comp.Duration
	}
	if seq := Plan(comp, opts); seq.Duration > 0 {
		return seq.Duration
	}

	total := 0.0
	for _, clip := range comp.Clips {
		if clip.Kind == KindOverlay {
			total = math.Max(total, clip.End())
		}
	}
	for _, text := range opts.TextOverlays {
		total = math.Max(total, text.End())
	}
	for _, track := range opts.AudioTracks {
		if track.Duration > 0 {
			total = math.Max(total, track.StartTime+track.Duration)
		}
	}
	return total
}
