package compiler

import (
	"fmt"

	"github.com/keagan/reelforge/internal/ffmpeg/filter"
	"github.com/keagan/reelforge/internal/timeline"
)

// durationEpsilon absorbs float noise in duration comparisons
const durationEpsilon = 1e-6

// mainSequence builds one chain per intro/content/outro clip, joins them and
// returns the label of the assembled base video
func (b *build) mainSequence() string {
	if len(b.seq.Segments) == 0 {
		chain := filter.NewBuilder().
			Add(filter.ColorSource(b.comp.Background(), b.out.Width, b.out.Height, b.out.FrameRate, b.total)).
			Add(filter.Format(b.out.PixelFormat))
		return b.node(nil, chain.Build(), "base")
	}

	labels := make([]string, len(b.seq.Segments))
	for i, seg := range b.seq.Segments {
		labels[i] = b.mainClip(i, seg)
	}

	cur := labels[0]
	for i := 1; i < len(b.seq.Segments); i++ {
		seg := b.seq.Segments[i]
		expr := filter.Concat(2, 1, 0)
		if seg.Join == timeline.JoinCrossfade {
			expr = filter.Xfade(b.transition(), seg.Crossfade, seg.Offset)
		}
		cur = b.node([]string{cur, labels[i]}, expr, fmt.Sprintf("j%d", i))
	}

	// an explicit output duration longer than the sequence holds the last frame
	if b.total > b.seq.Duration+durationEpsilon {
		cur = b.node([]string{cur}, filter.HoldLastFrame(b.total-b.seq.Duration), "hold")
	}
	return cur
}

// transition picks the xfade effect. Role-boundary crossfades without
// advanced transitions always dissolve.
func (b *build) transition() string {
	if b.opts.UseAdvancedTransitions {
		return b.opts.Transition()
	}
	return timeline.DefaultTransition
}

func (b *build) mainClip(i int, seg timeline.Segment) string {
	clip := seg.Clip
	idx := b.registerSource(clip.Source)
	w, h := sourceSize(clip.Source)

	chain := filter.NewBuilder().
		Add(filter.Trim(clip.Duration)).
		Add(filter.ScalePad(w, h, b.out.Width, b.out.Height)).
		Add(filter.FPS(b.out.FrameRate)).
		Add(filter.Format(b.out.PixelFormat)).
		Add(filter.ResetPTS()).
		Add(filter.FadeIn(clip.FadeIn)).
		Add(filter.FadeOut(clip.Duration, clip.FadeOut))

	label := b.node([]string{b.stream(idx, "v")}, chain.Build(), fmt.Sprintf("m%d", i))

	if clip.AudioAssetPath != "" {
		b.addClipAudio(clip, seg.Offset)
	}
	return label
}

// applyOverlays composites overlay clips in ascending start order. Each
// overlay is trimmed, scaled, made translucent, faded and shifted to its
// start time, then gated so it only shows inside its window.
func (b *build) applyOverlays(cur string) string {
	for i, clip := range b.comp.Overlays() {
		idx := b.registerSource(clip.Source)
		start, end := clip.StartTime, clip.End()

		chain := filter.NewBuilder().
			Add(filter.Trim(clip.Duration)).
			Add(filter.ResetPTS()).
			Add(filter.ScaleBy(clip.ScaleFactor())).
			Add(filter.Opacity(clip.Alpha())).
			Add(filter.AlphaFadeIn(clip.FadeIn)).
			Add(filter.AlphaFadeOut(clip.Duration, clip.FadeOut)).
			Add(filter.ShiftPTS(start))

		prepared := b.node([]string{b.stream(idx, "v")}, chain.Build(), fmt.Sprintf("ov%d", i))

		x, y := filter.OverlayXY(clip.Position.Or(timeline.Center), filter.DefaultMargin)
		cur = b.node([]string{cur, prepared}, filter.Overlay(x, y, start, end), fmt.Sprintf("vo%d", i))

		if clip.AudioAssetPath != "" {
			b.addClipAudio(clip, start)
		}
	}
	return cur
}

// applyText draws captions in the order given
func (b *build) applyText(cur string) string {
	for i, text := range b.opts.TextOverlays {
		cur = b.node([]string{cur}, filter.DrawText(text), fmt.Sprintf("vt%d", i))
	}
	return cur
}

func sourceSize(src timeline.Source) (int, int) {
	switch s := src.(type) {
	case timeline.ImageSource:
		return s.Width, s.Height
	case timeline.VideoSource:
		return s.Width, s.Height
	}
	return 0, 0
}
