package render

import (
	"fmt"
	"os"
	"strings"

	"github.com/bobarin/reelforge/internal/job"
)

// writeASS renders a segment's text_over windows as an ASS subtitle file
// for burn-in: each TextOverlay becomes one Dialogue line spanning
// [Start, End), styled by its own Font/Size/Color/Position.
func writeASS(overlays []job.TextOverlay, outputPath string, width, height int) error {
	var b strings.Builder
	b.WriteString("[Script Info]\n")
	b.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(&b, "PlayResX: %d\n", width)
	fmt.Fprintf(&b, "PlayResY: %d\n", height)
	b.WriteString("ScaledBorderAndShadow: yes\n\n")

	b.WriteString("[V4+ Styles]\n")
	b.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, " +
		"Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, " +
		"Alignment, MarginL, MarginR, MarginV, Encoding\n")

	seen := map[string]bool{}
	for _, o := range overlays {
		name := styleName(o)
		if seen[name] {
			continue
		}
		seen[name] = true
		fmt.Fprintf(&b, "Style: %s,%s,%d,%s,&H000000FF,&H00000000,%s,-1,0,0,0,100,100,0,0,1,3,0,%d,40,40,%d,1\n",
			name, fontOr(o.Font), sizeOr(o.Size), assColor(o.Color),
			boxColor(o.Box), alignmentCode(o.Position), marginV(o.Position, height))
	}

	b.WriteString("\n[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, o := range overlays {
		if o.End <= o.Start || strings.TrimSpace(o.Text) == "" {
			continue
		}
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,%s,,0,0,0,,%s\n",
			formatASSTime(o.Start), formatASSTime(o.End), styleName(o), escapeASSText(o.Text))
	}

	return os.WriteFile(outputPath, []byte(b.String()), 0o644)
}

func styleName(o job.TextOverlay) string {
	return fmt.Sprintf("s_%s_%d_%s", fontOr(o.Font), sizeOr(o.Size), sanitizeName(assColor(o.Color)))
}

func sanitizeName(s string) string {
	return strings.NewReplacer("&", "", "H", "h", ",", "_").Replace(s)
}

func fontOr(f string) string {
	if f == "" {
		return "Arial"
	}
	return f
}

func sizeOr(s int) int {
	if s <= 0 {
		return 48
	}
	return s
}

// assColor converts a CSS-style color name or #RRGGBB hex into ASS's
// &HAABBGGRR BGR format.
func assColor(c string) string {
	c = strings.TrimSpace(strings.ToLower(c))
	switch c {
	case "", "white":
		return "&H00FFFFFF"
	case "black":
		return "&H00000000"
	case "yellow":
		return "&H0000FFFF"
	case "red":
		return "&H000000FF"
	case "green":
		return "&H0000FF00"
	case "blue":
		return "&H00FF0000"
	}
	if strings.HasPrefix(c, "#") && len(c) == 7 {
		r, g, bch := c[1:3], c[3:5], c[5:7]
		return "&H00" + bch + g + r
	}
	return "&H00FFFFFF"
}

func boxColor(box bool) string {
	if box {
		return "&H80000000"
	}
	return "&H00000000"
}

// alignmentCode maps a coarse screen position to an ASS numpad alignment
// code (2 = bottom-center, 8 = top-center, 5 = middle-center).
func alignmentCode(position string) int {
	switch strings.ToLower(position) {
	case "top":
		return 8
	case "middle", "center":
		return 5
	default:
		return 2
	}
}

func marginV(position string, height int) int {
	switch strings.ToLower(position) {
	case "top":
		return height / 10
	case "middle", "center":
		return 0
	default:
		return height / 8
	}
}

func formatASSTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := int(seconds) / 3600
	m := (int(seconds) % 3600) / 60
	s := int(seconds) % 60
	cs := int((seconds-float64(int(seconds)))*100 + 0.5)
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}

func escapeASSText(text string) string {
	text = strings.ReplaceAll(text, "\\", "\\\\")
	text = strings.ReplaceAll(text, "\n", "\\N")
	text = strings.ReplaceAll(text, "{", "(")
	text = strings.ReplaceAll(text, "}", ")")
	return text
}
