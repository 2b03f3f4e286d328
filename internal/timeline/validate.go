package timeline

import (
	"fmt"

	"github.com/keagan/reelforge/pkg/util"
)

// ConfigurationError reports a composition that cannot be rendered as given.
// It is raised before any encoder process is started.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid composition: " + e.Reason
	}
	return fmt.Sprintf("invalid composition: %s: %s", e.Field, e.Reason)
}

func configErr(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// tolerance absorbs float noise when comparing timeline positions
const tolerance = 1e-6

// Normalize returns a copy with defaults applied: output settings are filled
// and clips without an id get "clip-<index>".
func Normalize(comp *Composition) *Composition {
	out := comp.Clone()
	out.Output = out.Output.WithDefaults()
	for i := range out.Clips {
		if out.Clips[i].ID == "" {
			out.Clips[i].ID = fmt.Sprintf("clip-%d", i)
		}
	}
	return out
}

// Validate checks a composition and its options. It returns a
// *ConfigurationError describing the first problem found.
func Validate(comp *Composition, opts CompilerOptions) error {
	if comp == nil {
		return &ConfigurationError{Reason: "composition is nil"}
	}
	comp = Normalize(comp)

	if comp.OutputPath == "" {
		return configErr("output_path", "is required")
	}
	if err := validateOutput(comp.Output); err != nil {
		return err
	}
	if comp.CrossfadeDuration != nil && *comp.CrossfadeDuration < 0 {
		return configErr("crossfade_duration", "must not be negative")
	}
	if comp.Duration < 0 {
		return configErr("duration", "must not be negative")
	}
	if opts.UseAdvancedTransitions && !IsTransition(opts.Transition()) {
		return configErr("transition_type", "unknown transition %q", opts.TransitionType)
	}
	if opts.TimeoutSeconds < 0 {
		return configErr("timeout_seconds", "must not be negative")
	}

	seen := make(map[string]bool, len(comp.Clips))
	for i, clip := range comp.Clips {
		if seen[clip.ID] {
			return configErr(fmt.Sprintf("clips[%d].id", i), "duplicate id %q", clip.ID)
		}
		seen[clip.ID] = true
		if err := validateClip(i, clip); err != nil {
			return err
		}
	}

	total := TotalDuration(comp, opts)
	if total <= 0 {
		return configErr("clips", "main sequence is empty and no output duration can be derived")
	}

	for i, clip := range comp.Clips {
		if clip.Kind != KindOverlay {
			continue
		}
		if clip.End() > total+tolerance {
			return configErr(fmt.Sprintf("clips[%d]", i),
				"overlay %q ends at %ss, past the composition duration %ss",
				clip.ID, util.FormatSeconds(clip.End()), util.FormatSeconds(total))
		}
	}

	for i, text := range opts.TextOverlays {
		if err := validateText(i, text, total); err != nil {
			return err
		}
	}
	for i, track := range opts.AudioTracks {
		if err := validateTrack(i, track, total); err != nil {
			return err
		}
	}

	return nil
}

func validateOutput(o OutputSettings) error {
	if o.Width <= 0 || o.Height <= 0 {
		return configErr("output", "dimensions must be positive, got %dx%d", o.Width, o.Height)
	}
	if o.Width%2 != 0 || o.Height%2 != 0 {
		return configErr("output", "dimensions must be even, got %dx%d", o.Width, o.Height)
	}
	if o.FrameRate <= 0 {
		return configErr("output.frame_rate", "must be positive")
	}
	return nil
}

func validateClip(i int, c Clip) error {
	field := fmt.Sprintf("clips[%d]", i)

	switch c.Kind {
	case KindIntro, KindContent, KindOutro, KindOverlay:
	default:
		return configErr(field+".kind", "unknown clip kind %q", c.Kind)
	}
	if c.Asset == "" && c.Source == nil {
		return configErr(field+".asset", "is required")
	}
	if c.Duration <= 0 {
		return configErr(field+".duration", "must be positive")
	}
	if c.StartTime < 0 {
		return configErr(field+".start_time", "must not be negative")
	}
	if c.FadeIn < 0 || c.FadeOut < 0 {
		return configErr(field, "fades must not be negative")
	}
	if c.FadeIn+c.FadeOut > c.Duration+tolerance {
		return configErr(field, "fade in and fade out exceed the clip duration")
	}
	if c.Scale < 0 {
		return configErr(field+".scale", "must not be negative")
	}
	if c.Opacity != nil && (*c.Opacity < 0 || *c.Opacity > 1) {
		return configErr(field+".opacity", "must be within [0, 1]")
	}
	if c.AudioVolume < 0 {
		return configErr(field+".audio_volume", "must not be negative")
	}
	return validatePosition(field+".position", c.Position)
}

func validatePosition(field string, p Position) error {
	if p.IsZero() {
		return nil
	}
	if (p.X == nil) != (p.Y == nil) {
		return configErr(field, "x and y must be given together")
	}
	if p.Explicit() {
		if *p.X < 0 || *p.X > 100 || *p.Y < 0 || *p.Y > 100 {
			return configErr(field, "percentages must be within [0, 100]")
		}
		return nil
	}
	if !IsPreset(p.Preset) {
		return configErr(field, "unknown preset %q", p.Preset)
	}
	return nil
}

func validateText(i int, t TextOverlay, total float64) error {
	field := fmt.Sprintf("text_overlays[%d]", i)

	if t.Text == "" {
		return configErr(field+".text", "is required")
	}
	if t.Duration <= 0 {
		return configErr(field+".duration", "must be positive")
	}
	if t.StartTime < 0 {
		return configErr(field+".start_time", "must not be negative")
	}
	if t.End() > total+tolerance {
		return configErr(field, "ends at %ss, past the composition duration %ss",
			util.FormatSeconds(t.End()), util.FormatSeconds(total))
	}
	if t.FontSize < 0 {
		return configErr(field+".font_size", "must not be negative")
	}
	if !animations[t.Animation] {
		return configErr(field+".animation", "unknown animation %q", t.Animation)
	}
	if t.AnimationDuration < 0 {
		return configErr(field+".animation_duration", "must not be negative")
	}
	switch t.Align {
	case "", "left", "center", "right":
	default:
		return configErr(field+".align", "unknown alignment %q", t.Align)
	}
	return validatePosition(field+".position", t.Position)
}

func validateTrack(i int, a AudioTrack, total float64) error {
	field := fmt.Sprintf("audio_tracks[%d]", i)

	if a.Path == "" {
		return configErr(field+".path", "is required")
	}
	if a.Volume < 0 {
		return configErr(field+".volume", "must not be negative")
	}
	if a.StartTime < 0 || a.Duration < 0 || a.FadeIn < 0 || a.FadeOut < 0 {
		return configErr(field, "times must not be negative")
	}
	if a.StartTime >= total-tolerance {
		return configErr(field+".start_time", "starts at %ss, at or past the composition duration %ss",
			util.FormatSeconds(a.StartTime), util.FormatSeconds(total))
	}
	return nil
}
