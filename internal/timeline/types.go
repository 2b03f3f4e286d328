package timeline

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// ClipKind is the role a clip plays in a composition
type ClipKind string

const (
	KindIntro   ClipKind = "intro"
	KindContent ClipKind = "content"
	KindOutro   ClipKind = "outro"
	KindOverlay ClipKind = "overlay"
)

// IsMain reports whether the kind belongs to the main sequence
func (k ClipKind) IsMain() bool {
	return k == KindIntro || k == KindContent || k == KindOutro
}

func (k ClipKind) rank() int {
	switch k {
	case KindIntro:
		return 0
	case KindContent:
		return 1
	case KindOutro:
		return 2
	default:
		return 3
	}
}

// Source is the resolved media behind a clip. It is one of ImageSource,
// VideoSource or UnsupportedSource.
type Source interface {
	isSource()
}

// ImageSource is a still image; it has no intrinsic duration.
type ImageSource struct {
	Path   string
	Width  int
	Height int
}

// VideoSource is a video file, optionally carrying an audio stream.
type VideoSource struct {
	Path     string
	Width    int
	Height   int
	Duration float64
	HasAudio bool
}

// UnsupportedSource records an asset whose kind cannot be drawn.
type UnsupportedSource struct {
	Path string
	Kind string
}

func (ImageSource) isSource()       {}
func (VideoSource) isSource()       {}
func (UnsupportedSource) isSource() {}

// SourcePath returns the file path behind src, or "" for nil.
func SourcePath(src Source) string {
	switch s := src.(type) {
	case ImageSource:
		return s.Path
	case VideoSource:
		return s.Path
	case UnsupportedSource:
		return s.Path
	default:
		return ""
	}
}

// Named overlay positions on a nine-point grid
const (
	TopLeft      = "top-left"
	TopCenter    = "top-center"
	TopRight     = "top-right"
	CenterLeft   = "center-left"
	Center       = "center"
	CenterRight  = "center-right"
	BottomLeft   = "bottom-left"
	BottomCenter = "bottom-center"
	BottomRight  = "bottom-right"
)

var presets = map[string]bool{
	TopLeft: true, TopCenter: true, TopRight: true,
	CenterLeft: true, Center: true, CenterRight: true,
	BottomLeft: true, BottomCenter: true, BottomRight: true,
}

// IsPreset reports whether name is one of the nine grid positions
func IsPreset(name string) bool {
	return presets[name]
}

// Position places an overlay either by preset name or by explicit
// percentages of the output frame. X and Y win over Preset when both are set.
type Position struct {
	Preset string   `yaml:"preset,omitempty" json:"preset,omitempty"`
	X      *float64 `yaml:"x,omitempty" json:"x,omitempty"`
	Y      *float64 `yaml:"y,omitempty" json:"y,omitempty"`
}

// At builds an explicit percentage position
func At(x, y float64) Position {
	return Position{X: &x, Y: &y}
}

// Preset builds a named position
func Preset(name string) Position {
	return Position{Preset: name}
}

// Explicit reports whether x/y percentages are set
func (p Position) Explicit() bool {
	return p.X != nil && p.Y != nil
}

// IsZero reports whether nothing was specified
func (p Position) IsZero() bool {
	return p.Preset == "" && p.X == nil && p.Y == nil
}

// Or returns p, or def when p is unset
func (p Position) Or(def string) Position {
	if p.IsZero() {
		return Preset(def)
	}
	return p
}

// UnmarshalYAML accepts either a bare preset name or a mapping.
func (p *Position) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		p.Preset = value.Value
		return nil
	}
	type plain Position
	return value.Decode((*plain)(p))
}

// UnmarshalJSON accepts either a bare preset name or an object.
func (p *Position) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		p.Preset = name
		return nil
	}
	type plain Position
	return json.Unmarshal(data, (*plain)(p))
}

func (p Position) String() string {
	if p.Explicit() {
		return fmt.Sprintf("%g%%,%g%%", *p.X, *p.Y)
	}
	return p.Preset
}

// Clip is one scheduled element of a composition
type Clip struct {
	ID    string   `yaml:"id,omitempty" json:"id,omitempty"`
	Kind  ClipKind `yaml:"kind" json:"kind"`
	Asset string   `yaml:"asset" json:"asset"`

	// Source is filled by Resolve and never serialized.
	Source Source `yaml:"-" json:"-"`

	StartTime float64 `yaml:"start_time" json:"start_time"`
	Duration  float64 `yaml:"duration" json:"duration"`
	FadeIn    float64 `yaml:"fade_in,omitempty" json:"fade_in,omitempty"`
	FadeOut   float64 `yaml:"fade_out,omitempty" json:"fade_out,omitempty"`
	Mute      bool    `yaml:"mute,omitempty" json:"mute,omitempty"`

	// Overlay-only fields
	Position Position `yaml:"position,omitempty" json:"position,omitempty"`
	Scale    float64  `yaml:"scale,omitempty" json:"scale,omitempty"`
	Opacity  *float64 `yaml:"opacity,omitempty" json:"opacity,omitempty"`
	ZIndex   int      `yaml:"z_index,omitempty" json:"z_index,omitempty"`

	AudioAssetPath string  `yaml:"audio_asset_path,omitempty" json:"audio_asset_path,omitempty"`
	AudioVolume    float64 `yaml:"audio_volume,omitempty" json:"audio_volume,omitempty"`
}

// End is the clip's end on the output timeline
func (c Clip) End() float64 {
	return c.StartTime + c.Duration
}

// ScaleFactor returns the overlay scale, defaulting to 1
func (c Clip) ScaleFactor() float64 {
	if c.Scale <= 0 {
		return 1
	}
	return c.Scale
}

// Alpha returns the overlay opacity, defaulting to fully opaque
func (c Clip) Alpha() float64 {
	if c.Opacity == nil {
		return 1
	}
	return *c.Opacity
}

// Volume returns the per-clip audio gain, defaulting to unity
func (c Clip) Volume() float64 {
	if c.AudioVolume <= 0 {
		return 1
	}
	return c.AudioVolume
}

// OutputSettings describes the encoded result
type OutputSettings struct {
	Width        int     `yaml:"width" json:"width"`
	Height       int     `yaml:"height" json:"height"`
	FrameRate    float64 `yaml:"frame_rate" json:"frame_rate"`
	VideoCodec   string  `yaml:"video_codec" json:"video_codec"`
	VideoBitrate string  `yaml:"video_bitrate" json:"video_bitrate"`
	AudioCodec   string  `yaml:"audio_codec" json:"audio_codec"`
	AudioBitrate string  `yaml:"audio_bitrate" json:"audio_bitrate"`
	Format       string  `yaml:"format" json:"format"`
	PixelFormat  string  `yaml:"pixel_format,omitempty" json:"pixel_format,omitempty"`
}

// Default output settings
const (
	DefaultWidth        = 1920
	DefaultHeight       = 1080
	DefaultFrameRate    = 30
	DefaultVideoCodec   = "libx264"
	DefaultVideoBitrate = "5M"
	DefaultAudioCodec   = "aac"
	DefaultAudioBitrate = "192k"
	DefaultFormat       = "mp4"
	DefaultPixelFormat  = "yuv420p"
	DefaultCrossfade    = 0.5
	DefaultBackground   = "black"
)

// WithDefaults fills unset fields
func (o OutputSettings) WithDefaults() OutputSettings {
	if o.Width == 0 {
		o.Width = DefaultWidth
	}
	if o.Height == 0 {
		o.Height = DefaultHeight
	}
	if o.FrameRate == 0 {
		o.FrameRate = DefaultFrameRate
	}
	if o.VideoCodec == "" {
		o.VideoCodec = DefaultVideoCodec
	}
	if o.VideoBitrate == "" {
		o.VideoBitrate = DefaultVideoBitrate
	}
	if o.AudioCodec == "" {
		o.AudioCodec = DefaultAudioCodec
	}
	if o.AudioBitrate == "" {
		o.AudioBitrate = DefaultAudioBitrate
	}
	if o.Format == "" {
		o.Format = DefaultFormat
	}
	if o.PixelFormat == "" {
		o.PixelFormat = DefaultPixelFormat
	}
	return o
}

// Composition is the unit of work: a declarative description of one video
type Composition struct {
	ID                string         `yaml:"id,omitempty" json:"id,omitempty"`
	Title             string         `yaml:"title,omitempty" json:"title,omitempty"`
	Clips             []Clip         `yaml:"clips" json:"clips"`
	Output            OutputSettings `yaml:"output" json:"output"`
	CrossfadeDuration *float64       `yaml:"crossfade_duration,omitempty" json:"crossfade_duration,omitempty"`
	Duration          float64        `yaml:"duration,omitempty" json:"duration,omitempty"`
	OutputPath        string         `yaml:"output_path" json:"output_path"`
	BackgroundColor   string         `yaml:"background_color,omitempty" json:"background_color,omitempty"`
}

// Crossfade returns the crossfade duration, defaulting to half a second
func (c *Composition) Crossfade() float64 {
	if c.CrossfadeDuration == nil {
		return DefaultCrossfade
	}
	return *c.CrossfadeDuration
}

// Background returns the filler color used when there is no main sequence
func (c *Composition) Background() string {
	if c.BackgroundColor == "" {
		return DefaultBackground
	}
	return c.BackgroundColor
}

// MainClips returns intro, content and outro clips in output order.
func (c *Composition) MainClips() []Clip {
	var main []Clip
	for _, clip := range c.Clips {
		if clip.Kind.IsMain() {
			main = append(main, clip)
		}
	}
	sort.SliceStable(main, func(i, j int) bool {
		if ri, rj := main[i].Kind.rank(), main[j].Kind.rank(); ri != rj {
			return ri < rj
		}
		return main[i].StartTime < main[j].StartTime
	})
	return main
}

// Overlays returns overlay clips by ascending start time. Equal start times
// keep z-index order so the higher layer is composited last.
func (c *Composition) Overlays() []Clip {
	var overlays []Clip
	for _, clip := range c.Clips {
		if clip.Kind == KindOverlay {
			overlays = append(overlays, clip)
		}
	}
	sort.SliceStable(overlays, func(i, j int) bool {
		if overlays[i].StartTime != overlays[j].StartTime {
			return overlays[i].StartTime < overlays[j].StartTime
		}
		return overlays[i].ZIndex < overlays[j].ZIndex
	})
	return overlays
}

// Clone returns a copy whose clip slice can be modified independently
func (c *Composition) Clone() *Composition {
	out := *c
	out.Clips = append([]Clip(nil), c.Clips...)
	return &out
}

// Text overlay animations
const (
	AnimationNone       = "none"
	AnimationFade       = "fade"
	AnimationSlideLeft  = "slide-left"
	AnimationSlideRight = "slide-right"
	AnimationSlideUp    = "slide-up"
	AnimationSlideDown  = "slide-down"
	AnimationZoom       = "zoom"
	AnimationTypewriter = "typewriter"
)

var animations = map[string]bool{
	"": true, AnimationNone: true, AnimationFade: true,
	AnimationSlideLeft: true, AnimationSlideRight: true, AnimationSlideUp: true, AnimationSlideDown: true,
	AnimationZoom: true, AnimationTypewriter: true,
}

// TextOverlay is a caption drawn on top of the video
type TextOverlay struct {
	Text      string  `yaml:"text" json:"text"`
	StartTime float64 `yaml:"start_time" json:"start_time"`
	Duration  float64 `yaml:"duration" json:"duration"`

	FontFile  string `yaml:"font_file,omitempty" json:"font_file,omitempty"`
	Font      string `yaml:"font,omitempty" json:"font,omitempty"`
	FontSize  int    `yaml:"font_size,omitempty" json:"font_size,omitempty"`
	FontColor string `yaml:"font_color,omitempty" json:"font_color,omitempty"`

	Position Position `yaml:"position,omitempty" json:"position,omitempty"`
	Align    string   `yaml:"align,omitempty" json:"align,omitempty"`

	Box       bool   `yaml:"box,omitempty" json:"box,omitempty"`
	BoxColor  string `yaml:"box_color,omitempty" json:"box_color,omitempty"`
	BoxBorder int    `yaml:"box_border,omitempty" json:"box_border,omitempty"`

	Shadow      bool   `yaml:"shadow,omitempty" json:"shadow,omitempty"`
	ShadowColor string `yaml:"shadow_color,omitempty" json:"shadow_color,omitempty"`
	ShadowX     int    `yaml:"shadow_x,omitempty" json:"shadow_x,omitempty"`
	ShadowY     int    `yaml:"shadow_y,omitempty" json:"shadow_y,omitempty"`

	Animation         string  `yaml:"animation,omitempty" json:"animation,omitempty"`
	AnimationDuration float64 `yaml:"animation_duration,omitempty" json:"animation_duration,omitempty"`
}

// End is the text overlay's end on the output timeline
func (t TextOverlay) End() float64 {
	return t.StartTime + t.Duration
}

// AudioTrack is a global audio bed mixed under the whole composition
type AudioTrack struct {
	Path      string  `yaml:"path" json:"path"`
	Volume    float64 `yaml:"volume,omitempty" json:"volume,omitempty"`
	StartTime float64 `yaml:"start_time,omitempty" json:"start_time,omitempty"`
	Duration  float64 `yaml:"duration,omitempty" json:"duration,omitempty"`
	Loop      bool    `yaml:"loop,omitempty" json:"loop,omitempty"`
	FadeIn    float64 `yaml:"fade_in,omitempty" json:"fade_in,omitempty"`
	FadeOut   float64 `yaml:"fade_out,omitempty" json:"fade_out,omitempty"`
}

// Gain returns the track volume, defaulting to unity
func (a AudioTrack) Gain() float64 {
	if a.Volume <= 0 {
		return 1
	}
	return a.Volume
}

// DefaultTransition is the xfade transition used when none is named
const DefaultTransition = "fade"

var transitions = map[string]bool{
	"fade": true, "fadeblack": true, "fadewhite": true, "dissolve": true, "distance": true,
	"wipeleft": true, "wiperight": true, "wipeup": true, "wipedown": true,
	"slideleft": true, "slideright": true, "slideup": true, "slidedown": true,
	"smoothleft": true, "smoothright": true, "smoothup": true, "smoothdown": true,
	"circlecrop": true, "rectcrop": true, "circleopen": true, "circleclose": true,
	"radial": true, "pixelize": true, "diagtl": true, "diagtr": true, "diagbl": true, "diagbr": true,
	"hblur": true, "zoomin": true,
}

// IsTransition reports whether name is a supported xfade transition
func IsTransition(name string) bool {
	return transitions[name]
}

// CompilerOptions configures how a composition is compiled
type CompilerOptions struct {
	UseAdvancedTransitions  bool          `yaml:"use_advanced_transitions,omitempty" json:"use_advanced_transitions,omitempty"`
	TransitionType          string        `yaml:"transition_type,omitempty" json:"transition_type,omitempty"`
	TextOverlays            []TextOverlay `yaml:"text_overlays,omitempty" json:"text_overlays,omitempty"`
	AudioTracks             []AudioTrack  `yaml:"audio_tracks,omitempty" json:"audio_tracks,omitempty"`
	UseHardwareAcceleration bool          `yaml:"use_hardware_acceleration,omitempty" json:"use_hardware_acceleration,omitempty"`
	TimeoutSeconds          int           `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Transition returns the xfade transition name
func (o CompilerOptions) Transition() string {
	if o.TransitionType == "" {
		return DefaultTransition
	}
	return o.TransitionType
}
