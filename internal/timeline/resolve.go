package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/keagan/reelforge/internal/assets"
	"golang.org/x/sync/errgroup"
)

// resolveParallelism bounds concurrent resolver calls; probing spawns ffprobe.
const resolveParallelism = 4

// sourceSlack is how far a clip may run past the end of its video source
// before it is rejected, to absorb container duration rounding.
const sourceSlack = 0.05

// Resolve looks up every asset a composition references and returns copies
// of the composition and options with sources and paths filled in. The inputs
// are not modified. Missing assets and assets of a kind that cannot serve their
// role produce a *ConfigurationError. Assets of unknown kind become an
// UnsupportedSource so the compiler can skip them.
func Resolve(ctx context.Context, comp *Composition, opts CompilerOptions, r assets.Resolver) (*Composition, CompilerOptions, error) {
	out := Normalize(comp)
	opts.TextOverlays = append([]TextOverlay(nil), opts.TextOverlays...)
	opts.AudioTracks = append([]AudioTrack(nil), opts.AudioTracks...)

	refs := collectRefs(out, opts)
	found, err := lookupAll(ctx, r, refs)
	if err != nil {
		return nil, opts, err
	}

	for i := range out.Clips {
		clip := &out.Clips[i]
		field := fmt.Sprintf("clips[%d]", i)

		if clip.Source == nil {
			src, err := sourceFor(field, *clip, found[clip.Asset])
			if err != nil {
				return nil, opts, err
			}
			clip.Source = src
		}
		if clip.AudioAssetPath != "" {
			a := found[clip.AudioAssetPath]
			if err := checkAudio(field+".audio_asset_path", clip.AudioAssetPath, a); err != nil {
				return nil, opts, err
			}
			clip.AudioAssetPath = a.Path
		}
	}

	for i := range opts.AudioTracks {
		track := &opts.AudioTracks[i]
		a := found[track.Path]
		if err := checkAudio(fmt.Sprintf("audio_tracks[%d].path", i), track.Path, a); err != nil {
			return nil, opts, err
		}
		track.Path = a.Path
	}

	for i := range opts.TextOverlays {
		text := &opts.TextOverlays[i]
		if text.FontFile == "" {
			continue
		}
		a := found[text.FontFile]
		if a.Kind != assets.KindFont {
			return nil, opts, configErr(fmt.Sprintf("text_overlays[%d].font_file", i), "asset %q is %s, not a font", text.FontFile, a.Kind)
		}
		text.FontFile = a.Path
	}

	return out, opts, nil
}

func collectRefs(comp *Composition, opts CompilerOptions) []string {
	var refs []string
	seen := make(map[string]bool)
	add := func(ref string) {
		if ref != "" && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}

	for _, clip := range comp.Clips {
		if clip.Source == nil {
			add(clip.Asset)
		}
		add(clip.AudioAssetPath)
	}
	for _, track := range opts.AudioTracks {
		add(track.Path)
	}
	for _, text := range opts.TextOverlays {
		add(text.FontFile)
	}
	return refs
}

func lookupAll(ctx context.Context, r assets.Resolver, refs []string) (map[string]assets.Asset, error) {
	found := make(map[string]assets.Asset, len(refs))
	if len(refs) == 0 {
		return found, nil
	}
	if r == nil {
		return nil, &ConfigurationError{Reason: "no asset resolver configured"}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveParallelism)

	for _, ref := range refs {
		g.Go(func() error {
			a, err := r.Resolve(gctx, ref)
			if errors.Is(err, assets.ErrNotFound) {
				return configErr("asset", "%q not found", ref)
			}
			if err != nil {
				return configErr("asset", "cannot resolve %q: %v", ref, err)
			}
			mu.Lock()
			found[ref] = a
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

// checkAudio accepts audio files and videos that carry an audio stream
func checkAudio(field, ref string, a assets.Asset) error {
	switch {
	case a.Kind != assets.KindAudio && a.Kind != assets.KindVideo:
		return configErr(field, "asset %q is %s, not audio", ref, a.Kind)
	case a.Kind == assets.KindVideo && !a.HasAudio:
		return configErr(field, "asset %q has no audio stream", ref)
	}
	return nil
}

func sourceFor(field string, clip Clip, a assets.Asset) (Source, error) {
	switch a.Kind {
	case assets.KindImage:
		return ImageSource{Path: a.Path, Width: a.Width, Height: a.Height}, nil
	case assets.KindVideo:
		if a.Duration > 0 && clip.Duration > a.Duration+sourceSlack {
			return nil, configErr(field+".duration", "clip lasts %gs but %q is only %gs long", clip.Duration, clip.Asset, a.Duration)
		}
		return VideoSource{Path: a.Path, Width: a.Width, Height: a.Height, Duration: a.Duration, HasAudio: a.HasAudio}, nil
	case assets.KindAudio, assets.KindFont:
		return nil, configErr(field+".asset", "asset %q is %s and cannot be used as a %s clip", clip.Asset, a.Kind, clip.Kind)
	default:
		return UnsupportedSource{Path: a.Path, Kind: string(a.Kind)}, nil
	}
}
