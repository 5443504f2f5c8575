package views

import (
	"strings"
	"unicode/utf8"

	"github.com/rivo/tview"
)

// clean drops code points tcell measures wrongly (emoji modifiers, joiners,
// variation selectors) and escapes tview color tags.
func clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !dropped(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return tview.Escape(b.String())
}

func dropped(r rune) bool {
	return (r >= 0x1F3FB && r <= 0x1F3FF) || // skin tones
		r == 0x200D || // zero width joiner
		(r >= 0xFE00 && r <= 0xFE0F) ||
		(r >= 0xE0100 && r <= 0xE01EF)
}
