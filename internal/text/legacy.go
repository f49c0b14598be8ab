// Package text converts legacy formatting codes ("&c", "§l") into styled
// components that session fronts can display.
package text

import (
	"strings"
)

// Segment is a run of text sharing one style.
type Segment struct {
	Text          string `json:"text"`
	Color         string `json:"color,omitempty"`
	Bold          bool   `json:"bold,omitempty"`
	Italic        bool   `json:"italic,omitempty"`
	Underlined    bool   `json:"underlined,omitempty"`
	Strikethrough bool   `json:"strikethrough,omitempty"`
	Obfuscated    bool   `json:"obfuscated,omitempty"`
}

// Component is displayable styled text.
type Component struct {
	Segments []Segment `json:"segments"`
}

// Plain returns the text with all styling dropped.
func (c Component) Plain() string {
	var b strings.Builder
	for _, s := range c.Segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

// String implements fmt.Stringer.
func (c Component) String() string { return c.Plain() }

var colors = map[byte]string{
	'0': "black",
	'1': "dark_blue",
	'2': "dark_green",
	'3': "dark_aqua",
	'4': "dark_red",
	'5': "dark_purple",
	'6': "gold",
	'7': "gray",
	'8': "dark_gray",
	'9': "blue",
	'a': "green",
	'b': "aqua",
	'c': "red",
	'd': "light_purple",
	'e': "yellow",
	'f': "white",
}

// Legacy parses text using '&' and '§' as formatting prefixes.
// A color code resets decorations, "r" resets everything. Unknown codes are
// kept verbatim.
func Legacy(s string) Component {
	var (
		segments []Segment
		cur      Segment
		buf      strings.Builder
	)
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		cur.Text = buf.String()
		segments = append(segments, cur)
		buf.Reset()
	}

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if (r == '&' || r == '§') && i+1 < len(runes) {
			code := runes[i+1]
			if code < 128 {
				c := byte(code)
				if c >= 'A' && c <= 'Z' {
					c += 'a' - 'A'
				}
				if applyCode(&cur, c, flush) {
					i++
					continue
				}
			}
		}
		buf.WriteRune(r)
	}
	flush()
	return Component{Segments: segments}
}

// applyCode mutates style for a known code and reports whether it was one.
// flush is called before the style changes so earlier text keeps its style.
func applyCode(cur *Segment, c byte, flush func()) bool {
	if color, ok := colors[c]; ok {
		flush()
		*cur = Segment{Color: color}
		return true
	}
	switch c {
	case 'k', 'l', 'm', 'n', 'o', 'r':
	default:
		return false
	}
	flush()
	switch c {
	case 'k':
		cur.Obfuscated = true
	case 'l':
		cur.Bold = true
	case 'm':
		cur.Strikethrough = true
	case 'n':
		cur.Underlined = true
	case 'o':
		cur.Italic = true
	case 'r':
		*cur = Segment{}
	}
	return true
}

// LegacyRenderer renders legacy formatted strings.
type LegacyRenderer struct{}

// Render implements the renderer collaborator used by message handlers.
func (LegacyRenderer) Render(s string) Component { return Legacy(s) }
