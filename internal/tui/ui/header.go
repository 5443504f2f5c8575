package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// HeaderData is what the header shows about the running client.
type HeaderData struct {
	Profile  string
	UserID   string
	API      string
	Unread   int
	Stale    bool
	Outgoing int // failed sends waiting for retry
}

// Header shows profile and connection details.
type Header struct {
	*tview.TextView
	theme *Theme
}

// NewHeader creates the header panel.
func NewHeader(theme *Theme) *Header {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.Bg)
	tv.SetBorderPadding(0, 0, 1, 1)
	return &Header{TextView: tv, theme: theme}
}

// Update redraws the header.
func (h *Header) Update(d HeaderData) {
	h.Clear()
	label, value := Tag(h.theme.Fg), Tag(h.theme.Counter)
	user := d.UserID
	if user == "" {
		user = "(logged out)"
	}
	row := func(k, v string) {
		_, _ = fmt.Fprintf(h, "[%s::b]%-8s[-:-:-] [%s]%s[-]\n", label, k, value, tview.Escape(v))
	}
	row("Profile:", d.Profile)
	row("User:", user)
	row("API:", d.API)
	row("Unread:", fmt.Sprint(d.Unread))
	if d.Outgoing > 0 {
		_, _ = fmt.Fprintf(h, "[%s::b]%d unsent[-:-:-]\n", Tag(h.theme.Failed), d.Outgoing)
	}
	if d.Stale {
		_, _ = fmt.Fprintf(h, "[%s]may be out of date[-]", Tag(h.theme.Warn))
	}
}
