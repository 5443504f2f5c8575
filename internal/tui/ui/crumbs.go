package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// Crumbs is a breadcrumb bar showing the current navigation path.
type Crumbs struct {
	*tview.TextView
	theme *Theme
}

// NewCrumbs creates a new breadcrumb bar.
func NewCrumbs(theme *Theme) *Crumbs {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.Bg)

	return &Crumbs{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the page stack, the top page highlighted.
func (c *Crumbs) Update(stack []string) {
	c.Clear()
	parts := make([]string, 0, len(stack))
	for i, name := range stack {
		name = tview.Escape(name)
		if i == len(stack)-1 {
			parts = append(parts, fmt.Sprintf("[%s:%s:b] %s [-:-:-]",
				Tag(c.theme.Bg), Tag(c.theme.CrumbActive), name))
		} else {
			parts = append(parts, fmt.Sprintf("[%s:%s:] %s [-:-:-]",
				Tag(c.theme.Bg), Tag(c.theme.CrumbInactive), name))
		}
	}
	_, _ = fmt.Fprint(c, strings.Join(parts, " > "))
}
