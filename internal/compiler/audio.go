package compiler

import (
	"fmt"

	"github.com/keagan/reelforge/internal/ffmpeg/filter"
	"github.com/keagan/reelforge/internal/timeline"
	"github.com/keagan/reelforge/pkg/util"
)

// addClipAudio trims a clip's secondary audio to the clip, places it at
// offset on the output timeline and records the label in the side table
func (b *build) addClipAudio(clip timeline.Clip, offset float64) {
	idx := b.register(clip.AudioAssetPath, false, false)

	chain := filter.NewBuilder().
		Add(filter.AudioTrim(clip.Duration)).
		Add(filter.AudioResetPTS()).
		Add(filter.AudioFormat()).
		Add(filter.Volume(clip.Volume())).
		Add(filter.AudioFadeIn(clip.FadeIn)).
		Add(filter.AudioFadeOut(clip.Duration, clip.FadeOut)).
		Add(filter.Delay(offset))

	label := b.node([]string{b.stream(idx, "a")}, chain.Build(), fmt.Sprintf("ca%d", len(b.audioOrder)))
	b.clipAudio[clip.ID] = label
	b.audioOrder = append(b.audioOrder, clip.ID)
}

// routeAudio picks the audio output. The first matching rule wins:
//  1. per-clip and overlay audio segments are mixed
//  2. if any main clip is muted, silence replaces muted ranges and the rest
//     keeps its native audio
//  3. global audio tracks are mixed
//  4. the first content clip's native audio is used
//
// An empty label means the output has no audio.
func (b *build) routeAudio() string {
	switch {
	case len(b.audioOrder) > 0:
		labels := make([]string, len(b.audioOrder))
		for i, id := range b.audioOrder {
			labels[i] = b.clipAudio[id]
		}
		return b.mix(labels)
	case b.anyMuted():
		return b.mutedTimeline()
	case len(b.opts.AudioTracks) > 0:
		if label := b.globalTracks(); label != "" {
			return label
		}
	}
	return b.nativeAudio()
}

// mix passes a single segment through and mixes several
func (b *build) mix(labels []string) string {
	if len(labels) == 1 {
		return labels[0]
	}
	return b.node(labels, filter.Mix(len(labels)), "aout")
}

func (b *build) anyMuted() bool {
	for _, seg := range b.seq.Segments {
		if seg.Clip.Mute {
			return true
		}
	}
	return false
}

// mutedTimeline concatenates one audio segment per main clip. Each segment
// lasts exactly as long as the clip is on screen, padded when the source
// audio runs short, so crossfades keep audio and video the same length.
func (b *build) mutedTimeline() string {
	labels := make([]string, len(b.seq.Segments))
	for i, seg := range b.seq.Segments {
		label := fmt.Sprintf("as%d", i)
		src, ok := seg.Clip.Source.(timeline.VideoSource)
		if seg.Clip.Mute || !ok || !src.HasAudio {
			labels[i] = b.node(nil, filter.Silence(seg.Display), label)
			continue
		}

		chain := filter.NewBuilder().
			Add(filter.AudioPad()).
			Add(filter.AudioTrim(seg.Display)).
			Add(filter.AudioResetPTS()).
			Add(filter.AudioFormat())
		labels[i] = b.node([]string{b.stream(b.inputIndex[src.Path], "a")}, chain.Build(), label)
	}

	if len(labels) == 1 {
		return labels[0]
	}
	return b.node(labels, filter.Concat(len(labels), 0, 1), "aout")
}

// globalTracks mixes the configured audio beds. A track without a duration
// runs to the end of the composition; tracks left with nothing to play are
// dropped.
func (b *build) globalTracks() string {
	var labels []string
	for _, track := range b.opts.AudioTracks {
		dur := track.Duration
		if dur <= 0 || track.StartTime+dur > b.total {
			dur = b.total - track.StartTime
		}
		if dur <= durationEpsilon {
			msg := fmt.Sprintf("skipped audio track %q: starts at %ss, at or after the output end", track.Path, util.FormatSeconds(track.StartTime))
			b.warnings = append(b.warnings, msg)
			b.c.logger.Warn().Str("path", track.Path).Msg(msg)
			continue
		}

		idx := b.register(track.Path, false, track.Loop)
		chain := filter.NewBuilder().
			Add(filter.AudioTrim(dur)).
			Add(filter.AudioResetPTS()).
			Add(filter.AudioFormat()).
			Add(filter.Volume(track.Gain())).
			Add(filter.AudioFadeIn(track.FadeIn)).
			Add(filter.AudioFadeOut(dur, track.FadeOut)).
			Add(filter.Delay(track.StartTime))

		labels = append(labels, b.node([]string{b.stream(idx, "a")}, chain.Build(), fmt.Sprintf("gt%d", len(labels))))
	}
	if len(labels) == 0 {
		return ""
	}
	return b.mix(labels)
}

// nativeAudio falls back to the first content clip's own soundtrack
func (b *build) nativeAudio() string {
	for _, seg := range b.seq.Segments {
		if seg.Clip.Kind != timeline.KindContent {
			continue
		}
		src, ok := seg.Clip.Source.(timeline.VideoSource)
		if !ok || !src.HasAudio {
			return ""
		}

		chain := filter.NewBuilder().
			Add(filter.AudioPad()).
			Add(filter.AudioTrim(seg.Clip.Duration)).
			Add(filter.AudioResetPTS()).
			Add(filter.AudioFormat()).
			Add(filter.Delay(seg.Offset))
		return b.node([]string{b.stream(b.inputIndex[src.Path], "a")}, chain.Build(), "aout")
	}
	return ""
}
