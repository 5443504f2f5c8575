package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// Logo is the header wordmark.
type Logo struct {
	*tview.TextView
}

// NewLogo creates the wordmark.
func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.Bg)
	tv.SetBorderPadding(1, 0, 1, 0)
	_, _ = fmt.Fprintf(tv,
		"[%[1]s::b]╻ ╻┏━┓┏┓╻╺┳┓╻ ╻[-:-:-]\n"+
			"[%[1]s::b]┣━┫┣━┫┃┗┫ ┃┃┗┳┛[-:-:-]\n"+
			"[%[1]s::b]╹ ╹╹ ╹╹ ╹╺┻┛ ╹ [-:-:-]\n"+
			"[%[2]s]chat[-:-:-]",
		Tag(theme.Title), Tag(theme.Fg))
	return &Logo{TextView: tv}
}
