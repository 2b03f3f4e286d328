package filter

import (
	"fmt"
	"math"
	"strings"

	"github.com/keagan/reelforge/internal/timeline"
)

// Text defaults
const (
	DefaultFontSize          = 48
	DefaultFontColor         = "white"
	DefaultBoxColor          = "black@0.5"
	DefaultBoxBorder         = 10
	DefaultShadowColor       = "black@0.6"
	DefaultAnimationDuration = 0.5
	TextMargin               = 40

	// typewriterStepCap bounds how many drawtext instances one caption
	// expands into
	typewriterStepCap = 40
	typewriterCharSec = 0.08
)

// DrawText renders a caption as one or more comma-joined drawtext filters.
// Animations are expressions evaluated by ffmpeg per frame; the typewriter
// effect expands into successive prefixes of the text, each gated to its own
// time window.
func DrawText(t timeline.TextOverlay) string {
	start, end := t.StartTime, t.End()
	base := textOptions(t)
	x, y := textXY(t)
	size := fmt.Sprintf("%d", fontSize(t))

	anim := animDuration(t)
	switch t.Animation {
	case timeline.AnimationFade:
		base = append(base, fmt.Sprintf("alpha='%s'", fadeAlpha(start, end, anim)))
	case timeline.AnimationSlideLeft:
		x = slide("w", x, start, anim)
	case timeline.AnimationSlideRight:
		x = slide("-text_w", x, start, anim)
	case timeline.AnimationSlideUp:
		y = slide("h", y, start, anim)
	case timeline.AnimationSlideDown:
		y = slide("-text_h", y, start, anim)
	case timeline.AnimationZoom:
		size = fmt.Sprintf("'%s*min(1,max(0.05,(t-%s)/%s))'", size, num(start), num(anim))
	case timeline.AnimationTypewriter:
		return typewriter(t, base, x, y, size)
	}

	return drawtext(base, quoteExpr(x), quoteExpr(y), size, t.Text, Between(start, end))
}

func drawtext(base []string, x, y, size, text, enable string) string {
	opts := append([]string{}, base...)
	opts = append(opts,
		"fontsize="+size,
		"x="+x,
		"y="+y,
		"text="+EscapeValue(text),
		"enable='"+enable+"'",
	)
	return "drawtext=" + strings.Join(opts, ":")
}

func textOptions(t timeline.TextOverlay) []string {
	var opts []string
	switch {
	case t.FontFile != "":
		opts = append(opts, "fontfile="+EscapeValue(t.FontFile))
	case t.Font != "":
		opts = append(opts, "font="+EscapeValue(t.Font))
	}

	color := t.FontColor
	if color == "" {
		color = DefaultFontColor
	}
	opts = append(opts, "fontcolor="+Color(color), "expansion=none")

	if t.Box {
		boxColor := t.BoxColor
		if boxColor == "" {
			boxColor = DefaultBoxColor
		}
		border := t.BoxBorder
		if border == 0 {
			border = DefaultBoxBorder
		}
		opts = append(opts, "box=1", "boxcolor="+Color(boxColor), fmt.Sprintf("boxborderw=%d", border))
	}

	if t.Shadow {
		shadowColor := t.ShadowColor
		if shadowColor == "" {
			shadowColor = DefaultShadowColor
		}
		sx, sy := t.ShadowX, t.ShadowY
		if sx == 0 && sy == 0 {
			sx, sy = 2, 2
		}
		opts = append(opts, "shadowcolor="+Color(shadowColor), fmt.Sprintf("shadowx=%d", sx), fmt.Sprintf("shadowy=%d", sy))
	}
	return opts
}

// textXY places the caption. Explicit percentages anchor the text according
// to its alignment; presets always keep the text fully inside the frame.
func textXY(t timeline.TextOverlay) (string, string) {
	pos := t.Position.Or(timeline.BottomCenter)
	x, y := place(pos, TextMargin, textVars)
	if pos.Explicit() {
		switch t.Align {
		case "center":
			x += "-text_w/2"
		case "right":
			x += "-text_w"
		}
	}
	return x, y
}

func fontSize(t timeline.TextOverlay) int {
	if t.FontSize > 0 {
		return t.FontSize
	}
	return DefaultFontSize
}

func animDuration(t timeline.TextOverlay) float64 {
	d := t.AnimationDuration
	if d <= 0 {
		d = DefaultAnimationDuration
	}
	return math.Min(d, t.Duration/2)
}

func fadeAlpha(start, end, d float64) string {
	s, e, a := num(start), num(end), num(d)
	return fmt.Sprintf("if(lt(t,%s+%s),(t-%s)/%s,if(gt(t,%s-%s),(%s-t)/%s,1))", s, a, s, a, e, a, e, a)
}

// slide moves a coordinate from `from` to `to` over d seconds after start
func slide(from, to string, start, d float64) string {
	s, a := num(start), num(d)
	return fmt.Sprintf("if(lt(t,%s+%s),(%s)+((%s)-(%s))*(t-%s)/%s,%s)", s, a, from, to, from, s, a, to)
}

// quoteExpr protects commas in an expression from the graph parser
func quoteExpr(expr string) string {
	if strings.ContainsAny(expr, ",()") {
		return "'" + expr + "'"
	}
	return expr
}

func typewriter(t timeline.TextOverlay, base []string, x, y, size string) string {
	runes := []rune(t.Text)
	n := len(runes)
	if n == 0 {
		return drawtext(base, quoteExpr(x), quoteExpr(y), size, "", Between(t.StartTime, t.End()))
	}

	reveal := t.AnimationDuration
	if reveal <= 0 {
		reveal = math.Min(t.Duration/2, typewriterCharSec*float64(n))
	}
	reveal = math.Min(reveal, t.Duration)

	steps := min(n, typewriterStepCap)
	step := reveal / float64(steps)

	parts := make([]string, 0, steps)
	for k := 1; k <= steps; k++ {
		chars := int(math.Ceil(float64(k) * float64(n) / float64(steps)))
		from := t.StartTime + float64(k-1)*step
		enable := fmt.Sprintf("gte(t,%s)*lt(t,%s)", num(from), num(t.StartTime+float64(k)*step))
		if k == steps {
			enable = Between(from, t.End())
		}
		parts = append(parts, drawtext(base, quoteExpr(x), quoteExpr(y), size, string(runes[:chars]), enable))
	}
	return strings.Join(parts, ",")
}
