package filter

import (
	"fmt"
	"math"
	"strings"

	"github.com/keagan/reelforge/internal/timeline"
	"github.com/keagan/reelforge/pkg/util"
)

// Audio is normalised to this layout before it is concatenated or mixed
const (
	SampleRate    = 48000
	ChannelLayout = "stereo"
)

// DefaultMargin is the distance in pixels kept between a preset-positioned
// overlay and the frame edge
const DefaultMargin = 20

func num(v float64) string {
	return util.FormatSeconds(v)
}

// ScalePad fits a source of srcW x srcH into dstW x dstH without distortion
// and letterboxes the rest with black bars. A source wider than the target
// scales to the target width, otherwise to the target height. Unknown source
// dimensions fall back to ffmpeg's own aspect-ratio fitting.
func ScalePad(srcW, srcH, dstW, dstH int) string {
	var scale string
	switch {
	case srcW <= 0 || srcH <= 0:
		scale = fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", dstW, dstH)
	case float64(srcW)/float64(srcH) > float64(dstW)/float64(dstH):
		scale = fmt.Sprintf("scale=%d:-2", dstW)
	default:
		scale = fmt.Sprintf("scale=-2:%d", dstH)
	}
	return NewBuilder().
		Add(scale).
		Add(fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black", dstW, dstH)).
		Add("setsar=1").
		Build()
}

// FPS normalises the frame rate
func FPS(rate float64) string {
	return "fps=" + num(rate)
}

// Format converts to a pixel format
func Format(pixFmt string) string {
	return "format=" + pixFmt
}

// Trim limits a video stream to duration seconds
func Trim(duration float64) string {
	return "trim=duration=" + num(duration)
}

// AudioTrim limits an audio stream to duration seconds
func AudioTrim(duration float64) string {
	return "atrim=duration=" + num(duration)
}

// AudioPad appends silence without end; follow it with AudioTrim
func AudioPad() string {
	return "apad"
}

// ResetPTS rebases video timestamps to zero
func ResetPTS() string {
	return "setpts=PTS-STARTPTS"
}

// AudioResetPTS rebases audio timestamps to zero
func AudioResetPTS() string {
	return "asetpts=PTS-STARTPTS"
}

// ShiftPTS rebases video timestamps so the stream begins at start seconds
func ShiftPTS(start float64) string {
	if start <= 0 {
		return ResetPTS()
	}
	return "setpts=PTS-STARTPTS+" + num(start) + "/TB"
}

// FadeIn fades from black over the first d seconds
func FadeIn(d float64) string {
	return fade("in", 0, d, false)
}

// FadeOut fades to black over the last d seconds of a clip lasting total
func FadeOut(total, d float64) string {
	return fade("out", total-d, d, false)
}

// AlphaFadeIn fades transparency instead of fading to black
func AlphaFadeIn(d float64) string {
	return fade("in", 0, d, true)
}

// AlphaFadeOut fades transparency over the last d seconds of total
func AlphaFadeOut(total, d float64) string {
	return fade("out", total-d, d, true)
}

func fade(dir string, start, d float64, alpha bool) string {
	if d <= 0 {
		return ""
	}
	expr := fmt.Sprintf("fade=t=%s:st=%s:d=%s", dir, num(math.Max(0, start)), num(d))
	if alpha {
		expr += ":alpha=1"
	}
	return expr
}

// AudioFadeIn fades audio in over d seconds
func AudioFadeIn(d float64) string {
	if d <= 0 {
		return ""
	}
	return "afade=t=in:st=0:d=" + num(d)
}

// AudioFadeOut fades audio out over the last d seconds of total
func AudioFadeOut(total, d float64) string {
	if d <= 0 {
		return ""
	}
	return fmt.Sprintf("afade=t=out:st=%s:d=%s", num(math.Max(0, total-d)), num(d))
}

// HoldLastFrame extends a stream by d seconds by repeating its last frame
func HoldLastFrame(d float64) string {
	return "tpad=stop_mode=clone:stop_duration=" + num(d)
}

// ScaleBy resizes by a factor, keeping even dimensions
func ScaleBy(factor float64) string {
	if factor <= 0 || factor == 1 {
		return ""
	}
	f := num(factor)
	return fmt.Sprintf("scale=trunc(iw*%s/2)*2:trunc(ih*%s/2)*2", f, f)
}

// Opacity makes a stream translucent by scaling its alpha channel
func Opacity(alpha float64) string {
	if alpha >= 1 {
		return "format=rgba"
	}
	return "format=rgba,colorchannelmixer=aa=" + num(math.Max(0, alpha))
}

// Frame variables for Place
type frameVars struct {
	frameW, frameH, objW, objH string
}

var (
	overlayVars = frameVars{"main_w", "main_h", "overlay_w", "overlay_h"}
	textVars    = frameVars{"w", "h", "text_w", "text_h"}
)

// OverlayXY resolves a position to overlay filter x/y expressions
func OverlayXY(pos timeline.Position, margin int) (string, string) {
	return place(pos, margin, overlayVars)
}

func place(pos timeline.Position, margin int, v frameVars) (string, string) {
	if pos.Explicit() {
		return pct(v.frameW, *pos.X), pct(v.frameH, *pos.Y)
	}

	preset := pos.Preset
	if preset == "" {
		preset = timeline.Center
	}
	m := fmt.Sprintf("%d", margin)

	// Presets are named row-column, e.g. "bottom-right"; "center" is both.
	row, col := "center", "center"
	if preset != timeline.Center {
		parts := strings.SplitN(preset, "-", 2)
		row, col = parts[0], parts[1]
	}

	var x, y string
	switch col {
	case "left":
		x = m
	case "right":
		x = fmt.Sprintf("%s-%s-%s", v.frameW, v.objW, m)
	default:
		x = fmt.Sprintf("(%s-%s)/2", v.frameW, v.objW)
	}
	switch row {
	case "top":
		y = m
	case "bottom":
		y = fmt.Sprintf("%s-%s-%s", v.frameH, v.objH, m)
	default:
		y = fmt.Sprintf("(%s-%s)/2", v.frameH, v.objH)
	}
	return x, y
}

func pct(frame string, p float64) string {
	if p == 0 {
		return "0"
	}
	return frame + "*" + num(p/100)
}

// Between is the enable expression for the window [start, end]
func Between(start, end float64) string {
	return fmt.Sprintf("between(t,%s,%s)", num(start), num(end))
}

// Overlay composites the second input at x/y, only between start and end
func Overlay(x, y string, start, end float64) string {
	return fmt.Sprintf("overlay=x=%s:y=%s:eof_action=pass:enable='%s'", x, y, Between(start, end))
}

// Xfade joins two streams with a transition of duration d starting at offset
// seconds into the first stream
func Xfade(transition string, d, offset float64) string {
	if transition == "" {
		transition = timeline.DefaultTransition
	}
	return fmt.Sprintf("xfade=transition=%s:duration=%s:offset=%s", transition, num(d), num(math.Max(0, offset)))
}

// Concat joins n segments with v video and a audio streams each
func Concat(n, v, a int) string {
	return fmt.Sprintf("concat=n=%d:v=%d:a=%d", n, v, a)
}

// ColorSource generates a solid frame of the given color
func ColorSource(color string, w, h int, rate, duration float64) string {
	return fmt.Sprintf("color=c=%s:s=%dx%d:r=%s:d=%s", Color(color), w, h, num(rate), num(duration))
}

// Silence generates duration seconds of silent audio
func Silence(duration float64) string {
	return fmt.Sprintf("anullsrc=r=%d:cl=%s,%s", SampleRate, ChannelLayout, AudioTrim(duration))
}

// AudioFormat normalises sample format, rate and layout
func AudioFormat() string {
	return fmt.Sprintf("aformat=sample_fmts=fltp:sample_rates=%d:channel_layouts=%s", SampleRate, ChannelLayout)
}

// Delay shifts audio later by seconds on both channels
func Delay(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	ms := int64(math.Round(seconds * 1000))
	return fmt.Sprintf("adelay=%d|%d", ms, ms)
}

// Volume scales audio gain
func Volume(v float64) string {
	if v == 1 {
		return ""
	}
	return "volume=" + num(v)
}

// Mix mixes n audio inputs; the result lasts as long as the longest input
func Mix(n int) string {
	return fmt.Sprintf("amix=inputs=%d:duration=longest:dropout_transition=0:normalize=0", n)
}

// Split duplicates a video stream n times
func Split(n int) string {
	return fmt.Sprintf("split=%d", n)
}

// ASplit duplicates an audio stream n times
func ASplit(n int) string {
	return fmt.Sprintf("asplit=%d", n)
}

// Color converts "#RRGGBB", "#RRGGBBAA" and "rgba(r,g,b,a)" to ffmpeg's
// 0xRRGGBB[@alpha] notation. Named colors pass through unchanged.
func Color(c string) string {
	c = strings.TrimSpace(c)
	switch {
	case strings.HasPrefix(c, "#") && len(c) == 7:
		return "0x" + strings.ToUpper(c[1:])
	case strings.HasPrefix(c, "#") && len(c) == 9:
		var a int
		if _, err := fmt.Sscanf(c[7:], "%02x", &a); err != nil {
			return c
		}
		return "0x" + strings.ToUpper(c[1:7]) + "@" + num(float64(a)/255)
	case strings.HasPrefix(c, "rgba(") && strings.HasSuffix(c, ")"):
		var r, g, b int
		var a float64
		inner := strings.ReplaceAll(c[5:len(c)-1], " ", "")
		if _, err := fmt.Sscanf(inner, "%d,%d,%d,%g", &r, &g, &b, &a); err != nil {
			return c
		}
		return fmt.Sprintf("0x%02X%02X%02X@%s", clampByte(r), clampByte(g), clampByte(b), num(math.Min(1, math.Max(0, a))))
	case strings.HasPrefix(c, "rgb(") && strings.HasSuffix(c, ")"):
		var r, g, b int
		inner := strings.ReplaceAll(c[4:len(c)-1], " ", "")
		if _, err := fmt.Sscanf(inner, "%d,%d,%d", &r, &g, &b); err != nil {
			return c
		}
		return fmt.Sprintf("0x%02X%02X%02X", clampByte(r), clampByte(g), clampByte(b))
	}
	return c
}

func clampByte(v int) int {
	return min(255, max(0, v))
}

// EscapeValue escapes a string for use as a filter option value inside a
// filter graph. Two passes are needed: one for the option parser and one for
// the graph parser, which each strip a level of quoting.
func EscapeValue(s string) string {
	return escape(escape(s, `\':`), `\'[],;`)
}

func escape(s, special string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
