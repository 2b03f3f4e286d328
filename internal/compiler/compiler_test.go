package compiler

import (
	"errors"
	"strings"
	"testing"

	"github.com/keagan/reelforge/internal/timeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func videoClip(id string, kind timeline.ClipKind, start, dur float64) timeline.Clip {
	return timeline.Clip{
		ID:        id,
		Kind:      kind,
		Asset:     id,
		StartTime: start,
		Duration:  dur,
		Source: timeline.VideoSource{
			Path:     "/media/" + id + ".mp4",
			Width:    1920,
			Height:   1080,
			Duration: dur,
			HasAudio: true,
		},
	}
}

func imageClip(id string, kind timeline.ClipKind, start, dur float64) timeline.Clip {
	return timeline.Clip{
		ID:        id,
		Kind:      kind,
		Asset:     id,
		StartTime: start,
		Duration:  dur,
		Source:    timeline.ImageSource{Path: "/media/" + id + ".png", Width: 400, Height: 200},
	}
}

func composition(clips ...timeline.Clip) *timeline.Composition {
	return &timeline.Composition{
		ID:         "comp-1",
		Title:      "test",
		Clips:      clips,
		OutputPath: "/out/final.mp4",
	}
}

func compile(t *testing.T, comp *timeline.Composition, opts timeline.CompilerOptions) *Invocation {
	t.Helper()
	inv, err := New(zerolog.Nop()).Compile(comp, opts)
	require.NoError(t, err)
	return inv
}

func nodesWithPrefix(inv *Invocation, prefix string) []Node {
	var out []Node
	for _, n := range inv.Graph {
		if strings.HasPrefix(n.Filter, prefix) {
			out = append(out, n)
		}
	}
	return out
}

func nodesContaining(inv *Invocation, sub string) []Node {
	var out []Node
	for _, n := range inv.Graph {
		if strings.Contains(n.Filter, sub) {
			out = append(out, n)
		}
	}
	return out
}

func nodeFor(t *testing.T, inv *Invocation, label string) Node {
	t.Helper()
	for _, n := range inv.Graph {
		for _, out := range n.Outputs {
			if out == label {
				return n
			}
		}
	}
	require.Failf(t, "missing node", "no node produces [%s]", label)
	return Node{}
}

func inputPaths(inv *Invocation) []string {
	paths := make([]string, len(inv.Inputs))
	for i, in := range inv.Inputs {
		paths[i] = in.Path
	}
	return paths
}

func TestCompileSingleContentClip(t *testing.T) {
	inv := compile(t, composition(videoClip("c", timeline.KindContent, 0, 10)), timeline.CompilerOptions{})

	assert.Equal(t, 10.0, inv.Duration)
	assert.Equal(t, []string{
		"-i", "/media/c.mp4",
		"-filter_complex",
		"[0:v]trim=duration=10,scale=-2:1080,pad=1920:1080:(ow-iw)/2:(oh-ih)/2:color=black,setsar=1,fps=30,format=yuv420p,setpts=PTS-STARTPTS[m0];" +
			"[0:a]apad,atrim=duration=10,asetpts=PTS-STARTPTS,aformat=sample_fmts=fltp:sample_rates=48000:channel_layouts=stereo[aout]",
		"-map", "[m0]",
		"-map", "[aout]",
		"-c:v", "libx264", "-preset", "medium", "-crf", "23",
		"-maxrate", "5M", "-bufsize", "5M",
		"-r", "30", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "192k",
		"-t", "10",
		"-movflags", "+faststart",
		"-f", "mp4",
		"/out/final.mp4",
	}, inv.Args())
}

func TestCompileIntroContentCrossfade(t *testing.T) {
	comp := composition(
		videoClip("content", timeline.KindContent, 3, 10),
		videoClip("intro", timeline.KindIntro, 0, 3),
	)
	inv := compile(t, comp, timeline.CompilerOptions{})

	assert.Equal(t, 12.5, inv.Duration)

	xfades := nodesWithPrefix(inv, "xfade=")
	require.Len(t, xfades, 1)
	assert.Equal(t, "xfade=transition=fade:duration=0.5:offset=2.5", xfades[0].Filter)
	assert.Equal(t, []string{"m0", "m1"}, xfades[0].Inputs)

	// intro is registered first even though content is listed first
	assert.Equal(t, "/media/intro.mp4", inv.Inputs[0].Path)
}

func TestCompileTwoClipsWithCrossfade(t *testing.T) {
	xf := 1.0
	comp := composition(
		videoClip("a", timeline.KindContent, 0, 5),
		videoClip("b", timeline.KindContent, 5, 5),
	)
	comp.CrossfadeDuration = &xf

	inv := compile(t, comp, timeline.CompilerOptions{UseAdvancedTransitions: true})

	assert.Equal(t, 9.0, inv.Duration)
	assert.Len(t, nodesContaining(inv, "pad="), 2)

	joins := append(nodesWithPrefix(inv, "xfade="), nodesWithPrefix(inv, "concat=")...)
	require.Len(t, joins, 1)
	assert.Equal(t, "xfade=transition=fade:duration=1:offset=4", joins[0].Filter)
	assert.Contains(t, inv.Args(), "9")
}

func TestCompileSameRoleWithoutTransitionsConcatenates(t *testing.T) {
	comp := composition(
		videoClip("a", timeline.KindContent, 0, 5),
		videoClip("b", timeline.KindContent, 5, 5),
	)
	inv := compile(t, comp, timeline.CompilerOptions{})

	assert.Equal(t, 10.0, inv.Duration)
	assert.Empty(t, nodesWithPrefix(inv, "xfade="))
	concat := nodesWithPrefix(inv, "concat=")
	require.Len(t, concat, 1)
	assert.Equal(t, "concat=n=2:v=1:a=0", concat[0].Filter)
}

func TestCompileAdvancedTransitionType(t *testing.T) {
	comp := composition(
		videoClip("a", timeline.KindContent, 0, 4),
		videoClip("b", timeline.KindContent, 4, 4),
		videoClip("c", timeline.KindContent, 8, 4),
	)
	inv := compile(t, comp, timeline.CompilerOptions{UseAdvancedTransitions: true, TransitionType: "wipeleft"})

	xfades := nodesWithPrefix(inv, "xfade=")
	require.Len(t, xfades, 2)
	assert.Equal(t, "xfade=transition=wipeleft:duration=0.5:offset=3.5", xfades[0].Filter)
	assert.Equal(t, "xfade=transition=wipeleft:duration=0.5:offset=7", xfades[1].Filter)
	assert.Equal(t, []string{"j1", "m2"}, xfades[1].Inputs)
	assert.Equal(t, 11.0, inv.Duration)
}

func TestCompileOverlayScenario(t *testing.T) {
	logo := imageClip("logo", timeline.KindOverlay, 2, 3)
	logo.Position = timeline.Preset(timeline.BottomRight)

	inv := compile(t, composition(videoClip("c", timeline.KindContent, 0, 10), logo), timeline.CompilerOptions{})

	overlays := nodesWithPrefix(inv, "overlay=")
	require.Len(t, overlays, 1)
	assert.Contains(t, overlays[0].Filter, "enable='between(t,2,5)'")
	assert.Contains(t, overlays[0].Filter, "x=main_w-overlay_w-20:y=main_h-overlay_h-20")
	assert.Equal(t, []string{"m0", "ov0"}, overlays[0].Inputs)
	assert.Equal(t, 10.0, inv.Duration)
	assert.Equal(t, "vo0", inv.VideoLabel)

	prep := nodesContaining(inv, "format=rgba")
	require.Len(t, prep, 1)
	assert.Equal(t, "trim=duration=3,setpts=PTS-STARTPTS,format=rgba,setpts=PTS-STARTPTS+2/TB", prep[0].Filter)
}

func TestCompileOverlayOrderScaleOpacityFade(t *testing.T) {
	half := 0.5
	late := imageClip("late", timeline.KindOverlay, 6, 2)
	early := videoClip("early", timeline.KindOverlay, 1, 4)
	early.Scale = 0.5
	early.Opacity = &half
	early.FadeIn = 1
	early.FadeOut = 0.5
	early.Position = timeline.At(25, 75)

	inv := compile(t, composition(videoClip("c", timeline.KindContent, 0, 10), late, early), timeline.CompilerOptions{})

	overlays := nodesWithPrefix(inv, "overlay=")
	require.Len(t, overlays, 2)
	assert.Contains(t, overlays[0].Filter, "enable='between(t,1,5)'")
	assert.Contains(t, overlays[0].Filter, "x=main_w*0.25:y=main_h*0.75")
	assert.Contains(t, overlays[1].Filter, "enable='between(t,6,8)'")
	assert.Equal(t, []string{"vo0", "ov1"}, overlays[1].Inputs)

	prep := nodesContaining(inv, "colorchannelmixer")
	require.Len(t, prep, 1)
	assert.Equal(t,
		"trim=duration=4,setpts=PTS-STARTPTS,scale=trunc(iw*0.5/2)*2:trunc(ih*0.5/2)*2,format=rgba,colorchannelmixer=aa=0.5,"+
			"fade=t=in:st=0:d=1:alpha=1,fade=t=out:st=3.5:d=0.5:alpha=1,setpts=PTS-STARTPTS+1/TB",
		prep[0].Filter)
}

func TestCompileImagesLoop(t *testing.T) {
	comp := composition(
		imageClip("title", timeline.KindIntro, 0, 3),
		videoClip("c", timeline.KindContent, 3, 5),
	)
	inv := compile(t, comp, timeline.CompilerOptions{})

	require.Len(t, inv.Inputs, 2)
	assert.True(t, inv.Inputs[0].Loop)
	assert.False(t, inv.Inputs[1].Loop)

	args := strings.Join(inv.Args(), " ")
	assert.True(t, strings.HasPrefix(args, "-loop 1 -i /media/title.png -i /media/c.mp4 "))

	// 400x200 is wider than 16:9, so it scales to the output width
	assert.Contains(t, inv.FilterComplex(), "scale=1920:-2,pad=1920:1080")
}

func TestCompileIsDeterministic(t *testing.T) {
	build := func() *timeline.Composition {
		logo := imageClip("logo", timeline.KindOverlay, 1, 2)
		logo.AudioAssetPath = "/media/ding.wav"
		return composition(
			videoClip("intro", timeline.KindIntro, 0, 2),
			videoClip("c", timeline.KindContent, 2, 6),
			videoClip("outro", timeline.KindOutro, 8, 2),
			logo,
		)
	}
	opts := timeline.CompilerOptions{
		UseAdvancedTransitions: true,
		TextOverlays: []timeline.TextOverlay{
			{Text: "Hello, world: it's here", StartTime: 1, Duration: 3, Animation: timeline.AnimationTypewriter},
		},
		AudioTracks: []timeline.AudioTrack{{Path: "/media/bed.mp3", Volume: 0.3, Loop: true}},
	}

	first := compile(t, build(), opts)
	second := compile(t, build(), opts)

	assert.Equal(t, first.Args(), second.Args())
	assert.Equal(t, first.String(), second.String())
}

func TestCompileDoesNotMutateComposition(t *testing.T) {
	clip := videoClip("c", timeline.KindContent, 0, 10)
	clip.ID = ""
	logo := imageClip("logo", timeline.KindOverlay, 2, 3)
	logo.AudioAssetPath = "/media/ding.wav"
	comp := composition(clip, logo)
	before := comp.Clone()

	compile(t, comp, timeline.CompilerOptions{})

	assert.Equal(t, before, comp)
	assert.Empty(t, comp.Clips[0].ID)
}

func TestCompileSkipsUnsupportedSources(t *testing.T) {
	font := timeline.Clip{
		ID:        "font",
		Kind:      timeline.KindOverlay,
		Asset:     "font",
		StartTime: 1,
		Duration:  2,
		Source:    timeline.UnsupportedSource{Path: "/media/font.xyz", Kind: "unknown"},
	}
	inv := compile(t, composition(videoClip("c", timeline.KindContent, 0, 10), font), timeline.CompilerOptions{})

	assert.Empty(t, nodesWithPrefix(inv, "overlay="))
	require.Len(t, inv.Warnings, 1)
	assert.Contains(t, inv.Warnings[0], `"font"`)
	require.Len(t, inv.Inputs, 1)
}

func TestCompileEmptyMainSequenceUsesFiller(t *testing.T) {
	comp := composition(imageClip("logo", timeline.KindOverlay, 0, 4))
	comp.Duration = 6
	comp.BackgroundColor = "#112233"

	inv := compile(t, comp, timeline.CompilerOptions{})

	assert.Equal(t, 6.0, inv.Duration)
	require.NotEmpty(t, inv.Graph)
	assert.Empty(t, inv.Graph[0].Inputs)
	assert.Equal(t, "color=c=0x112233:s=1920x1080:r=30:d=6,format=yuv420p", inv.Graph[0].Filter)
	assert.Equal(t, "", inv.AudioLabel)
	assert.Contains(t, inv.Args(), "-an")
}

func TestCompileWithoutAnyDurationFails(t *testing.T) {
	comp := composition(timeline.Clip{ID: "x", Kind: timeline.KindContent, Duration: 5})

	_, err := New(zerolog.Nop()).Compile(comp, timeline.CompilerOptions{})

	var cerr *CompilationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "duration", cerr.Stage)
}

func TestCompileNilComposition(t *testing.T) {
	_, err := New(zerolog.Nop()).Compile(nil, timeline.CompilerOptions{})

	var cerr *CompilationError
	assert.True(t, errors.As(err, &cerr))
}

func TestCompileExplicitDurationHoldsLastFrame(t *testing.T) {
	comp := composition(videoClip("c", timeline.KindContent, 0, 8))
	comp.Duration = 10

	inv := compile(t, comp, timeline.CompilerOptions{})

	assert.Equal(t, 10.0, inv.Duration)
	hold := nodesWithPrefix(inv, "tpad=")
	require.Len(t, hold, 1)
	assert.Equal(t, "tpad=stop_mode=clone:stop_duration=2", hold[0].Filter)
	assert.Equal(t, "hold", inv.VideoLabel)
}

func TestCompileSplitsReusedInputs(t *testing.T) {
	a := videoClip("a", timeline.KindContent, 0, 3)
	b := videoClip("b", timeline.KindContent, 3, 3)
	b.Source = a.Source

	inv := compile(t, composition(a, b), timeline.CompilerOptions{})

	require.Len(t, inv.Inputs, 1)
	assert.Equal(t, "split=2", inv.Graph[0].Filter)
	assert.Equal(t, []string{"0:v"}, inv.Graph[0].Inputs)
	assert.Equal(t, []string{"s0v1", "s0v2"}, inv.Graph[0].Outputs)

	var mains []Node
	for _, n := range inv.Graph {
		if len(n.Outputs) == 1 && strings.HasPrefix(n.Outputs[0], "m") {
			mains = append(mains, n)
		}
	}
	require.Len(t, mains, 2)
	assert.Equal(t, []string{"s0v1"}, mains[0].Inputs)
	assert.Equal(t, []string{"s0v2"}, mains[1].Inputs)
}

func TestCompileTextOverlay(t *testing.T) {
	opts := timeline.CompilerOptions{
		TextOverlays: []timeline.TextOverlay{
			{Text: "Chapter 1", StartTime: 1, Duration: 2, Position: timeline.Preset(timeline.TopLeft), Animation: timeline.AnimationFade},
		},
	}
	inv := compile(t, composition(videoClip("c", timeline.KindContent, 0, 5)), opts)

	text := nodesWithPrefix(inv, "drawtext=")
	require.Len(t, text, 1)
	assert.Equal(t, []string{"m0"}, text[0].Inputs)
	assert.Contains(t, text[0].Filter, "enable='between(t,1,3)'")
	assert.Contains(t, text[0].Filter, "alpha='if(lt(t,1+0.5)")
	assert.Equal(t, "vt0", inv.VideoLabel)
}

func TestCompileEncodingSettings(t *testing.T) {
	comp := composition(videoClip("c", timeline.KindContent, 0, 4))
	comp.Output = timeline.OutputSettings{
		Width: 1280, Height: 720, FrameRate: 25,
		VideoCodec: "libx265", VideoBitrate: "2M",
		AudioCodec: "libopus", AudioBitrate: "96k",
		Format: "mkv",
	}

	inv, err := New(zerolog.Nop(), WithPreset("slow"), WithCRF(20)).Compile(comp, timeline.CompilerOptions{})
	require.NoError(t, err)

	args := strings.Join(inv.Args(), " ")
	assert.Contains(t, args, "-c:v libx265 -preset slow -crf 20 -maxrate 2M -bufsize 2M -r 25 -pix_fmt yuv420p -c:a libopus -b:a 96k")
	assert.NotContains(t, args, "+faststart")
	assert.Contains(t, args, "-f mkv /out/final.mp4")
	assert.Contains(t, inv.FilterComplex(), "pad=1280:720")
}

const stereo = "aformat=sample_fmts=fltp:sample_rates=48000:channel_layouts=stereo"

func TestCompileAudioRouting(t *testing.T) {
	bed := []timeline.AudioTrack{{Path: "/media/bed.mp3", Volume: 0.5}}

	tests := []struct {
		name  string
		comp  func() *timeline.Composition
		opts  timeline.CompilerOptions
		check func(t *testing.T, inv *Invocation)
	}{
		{
			name: "single clip audio passes through",
			comp: func() *timeline.Composition {
				c := videoClip("c", timeline.KindContent, 0, 10)
				c.Mute = true
				logo := imageClip("logo", timeline.KindOverlay, 2, 3)
				logo.AudioAssetPath = "/media/ding.wav"
				return composition(c, logo)
			},
			opts: timeline.CompilerOptions{AudioTracks: bed},
			check: func(t *testing.T, inv *Invocation) {
				assert.Equal(t, "ca0", inv.AudioLabel)
				ding := nodeFor(t, inv, "ca0")
				assert.Equal(t, []string{"2:a"}, ding.Inputs)
				assert.Equal(t, "atrim=duration=3,asetpts=PTS-STARTPTS,"+stereo+",adelay=2000|2000", ding.Filter)

				assert.Empty(t, nodesWithPrefix(inv, "amix="))
				assert.Empty(t, nodesWithPrefix(inv, "anullsrc="), "muting is ignored")
				assert.NotContains(t, inputPaths(inv), "/media/bed.mp3", "global tracks are ignored")
			},
		},
		{
			name: "several clip audios are mixed",
			comp: func() *timeline.Composition {
				c := videoClip("c", timeline.KindContent, 0, 10)
				c.AudioAssetPath = "/media/voice.mp3"
				logo := imageClip("logo", timeline.KindOverlay, 2, 3)
				logo.AudioAssetPath = "/media/ding.wav"
				return composition(c, logo)
			},
			opts: timeline.CompilerOptions{AudioTracks: bed},
			check: func(t *testing.T, inv *Invocation) {
				assert.Equal(t, "aout", inv.AudioLabel)
				mix := nodeFor(t, inv, "aout")
				assert.Equal(t, "amix=inputs=2:duration=longest:dropout_transition=0:normalize=0", mix.Filter)
				assert.ElementsMatch(t, []string{"ca0", "ca1"}, mix.Inputs)
				assert.NotContains(t, inputPaths(inv), "/media/bed.mp3")
			},
		},
		{
			name: "muted clip becomes silence even with global tracks",
			comp: func() *timeline.Composition {
				a := videoClip("a", timeline.KindContent, 0, 5)
				a.Mute = true
				return composition(a, videoClip("b", timeline.KindContent, 5, 5))
			},
			opts: timeline.CompilerOptions{AudioTracks: bed},
			check: func(t *testing.T, inv *Invocation) {
				silent := nodeFor(t, inv, "as0")
				assert.Empty(t, silent.Inputs)
				assert.Equal(t, "anullsrc=r=48000:cl=stereo,atrim=duration=5", silent.Filter)

				native := nodeFor(t, inv, "as1")
				assert.Equal(t, []string{"1:a"}, native.Inputs)
				assert.Equal(t, "apad,atrim=duration=5,asetpts=PTS-STARTPTS,"+stereo, native.Filter)

				assert.Equal(t, "aout", inv.AudioLabel)
				joined := nodeFor(t, inv, "aout")
				assert.Equal(t, "concat=n=2:v=0:a=1", joined.Filter)
				assert.Equal(t, []string{"as0", "as1"}, joined.Inputs)
				assert.NotContains(t, inputPaths(inv), "/media/bed.mp3")
			},
		},
		{
			name: "global tracks are clamped, delayed and mixed",
			comp: func() *timeline.Composition {
				return composition(videoClip("c", timeline.KindContent, 0, 10))
			},
			opts: timeline.CompilerOptions{AudioTracks: []timeline.AudioTrack{
				{Path: "/media/bed.mp3", Volume: 0.5, StartTime: 2, Duration: 20},
				{Path: "/media/voice.mp3", Duration: 4},
			}},
			check: func(t *testing.T, inv *Invocation) {
				assert.Equal(t, []string{"/media/c.mp4", "/media/bed.mp3", "/media/voice.mp3"}, inputPaths(inv))

				first := nodeFor(t, inv, "gt0")
				assert.Equal(t, []string{"1:a"}, first.Inputs)
				assert.Equal(t, "atrim=duration=8,asetpts=PTS-STARTPTS,"+stereo+",volume=0.5,adelay=2000|2000", first.Filter)

				second := nodeFor(t, inv, "gt1")
				assert.Equal(t, "atrim=duration=4,asetpts=PTS-STARTPTS,"+stereo, second.Filter)

				mix := nodeFor(t, inv, "aout")
				assert.Equal(t, []string{"gt0", "gt1"}, mix.Inputs)
				assert.True(t, strings.HasPrefix(mix.Filter, "amix=inputs=2:"))
				assert.NotContains(t, inv.FilterComplex(), "[0:a]", "native audio is replaced")
			},
		},
		{
			name: "first content clip audio is delayed to its offset",
			comp: func() *timeline.Composition {
				return composition(
					videoClip("intro", timeline.KindIntro, 0, 3),
					videoClip("content", timeline.KindContent, 3, 10),
				)
			},
			check: func(t *testing.T, inv *Invocation) {
				assert.Equal(t, "aout", inv.AudioLabel)
				native := nodeFor(t, inv, "aout")
				assert.Equal(t, []string{"1:a"}, native.Inputs)
				assert.Equal(t, "apad,atrim=duration=10,asetpts=PTS-STARTPTS,"+stereo+",adelay=2500|2500", native.Filter)
			},
		},
		{
			name: "intro only has no audio",
			comp: func() *timeline.Composition {
				return composition(videoClip("intro", timeline.KindIntro, 0, 3))
			},
			check: func(t *testing.T, inv *Invocation) {
				assert.Equal(t, "", inv.AudioLabel)
				assert.Contains(t, inv.Args(), "-an")
			},
		},
		{
			name: "silent content has no audio",
			comp: func() *timeline.Composition {
				c := videoClip("c", timeline.KindContent, 0, 10)
				src := c.Source.(timeline.VideoSource)
				src.HasAudio = false
				c.Source = src
				return composition(c)
			},
			check: func(t *testing.T, inv *Invocation) {
				assert.Equal(t, "", inv.AudioLabel)
				assert.Contains(t, inv.Args(), "-an")
				assert.NotContains(t, inv.FilterComplex(), ":a]")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, compile(t, tt.comp(), tt.opts))
		})
	}
}

func TestCompileSkipsTrackStartingAfterEnd(t *testing.T) {
	comp := composition(videoClip("c", timeline.KindContent, 0, 10))
	opts := timeline.CompilerOptions{AudioTracks: []timeline.AudioTrack{{Path: "/media/bed.mp3", StartTime: 12}}}

	inv := compile(t, comp, opts)

	assert.NotContains(t, inv.FilterComplex(), "atrim=duration=-")
	assert.NotContains(t, inputPaths(inv), "/media/bed.mp3")
	require.Len(t, inv.Warnings, 1)
	assert.Contains(t, inv.Warnings[0], "/media/bed.mp3")

	// with nothing left to mix the clip keeps its own audio
	native := nodeFor(t, inv, inv.AudioLabel)
	assert.Equal(t, []string{"0:a"}, native.Inputs)
	assert.True(t, strings.HasPrefix(native.Filter, "apad,atrim=duration=10,"))
}

func TestCompileKeepsTracksThatStillPlay(t *testing.T) {
	comp := composition(videoClip("c", timeline.KindContent, 0, 10))
	opts := timeline.CompilerOptions{AudioTracks: []timeline.AudioTrack{
		{Path: "/media/late.mp3", StartTime: 10},
		{Path: "/media/bed.mp3", StartTime: 1},
	}}

	inv := compile(t, comp, opts)

	assert.Equal(t, "gt0", inv.AudioLabel, "a single remaining track passes through")
	bed := nodeFor(t, inv, "gt0")
	assert.Equal(t, "atrim=duration=9,asetpts=PTS-STARTPTS,"+stereo+",adelay=1000|1000", bed.Filter)
	assert.Equal(t, []string{"/media/c.mp4", "/media/bed.mp3"}, inputPaths(inv))
	assert.Len(t, inv.Warnings, 1)
}

func TestCompilePadsShortClipAudio(t *testing.T) {
	a := videoClip("a", timeline.KindContent, 0, 4)
	a.Mute = true
	b := videoClip("b", timeline.KindContent, 4, 6)

	inv := compile(t, composition(a, b), timeline.CompilerOptions{})

	for _, n := range nodesContaining(inv, "atrim=") {
		if len(n.Inputs) == 0 {
			continue
		}
		assert.True(t, strings.HasPrefix(n.Filter, "apad,atrim="), "source audio is padded before trimming: %s", n.Filter)
	}
	assert.Equal(t, "apad,atrim=duration=6,asetpts=PTS-STARTPTS,"+stereo, nodeFor(t, inv, "as1").Filter)
}
