package views

import (
	"fmt"

	"github.com/matheus3301/handychat/internal/model"
	"github.com/matheus3301/handychat/internal/push"
	"github.com/matheus3301/handychat/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationInfo shows participants and the conversation's deep link as a
// QR code, so it can be opened on a phone.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates the details page.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.Border)
	tv.SetBackgroundColor(theme.Bg)
	tv.SetTextColor(theme.Fg)
	tv.SetTitle(" Details ")
	tv.SetTitleColor(theme.Title)
	return &ConversationInfo{TextView: tv, theme: theme}
}

func (ci *ConversationInfo) Name() string { return "Details" }

func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "Esc", Description: "Back"}}
}

// Update renders c and its link.
func (ci *ConversationInfo) Update(c model.Conversation, link string) {
	ci.Clear()
	label, value := ui.Tag(ci.theme.Fg), ui.Tag(ci.theme.Counter)
	row := func(k, v string) {
		_, _ = fmt.Fprintf(ci, " [%s::b]%-10s[-:-:-] [%s]%s[-]\n", label, k, value, clean(v))
	}

	_, _ = fmt.Fprintln(ci)
	row("ID:", c.ID)
	if c.JobID != "" {
		row("Job:", c.JobID)
	}
	for _, p := range c.Participants {
		who := p.Name
		if p.Role != "" {
			who += " (" + p.Role + ")"
		}
		row("With:", who)
	}
	row("Unread:", fmt.Sprint(c.UnreadCount))
	row("Link:", link)

	if qr, err := push.QR(link); err == nil {
		_, _ = fmt.Fprintf(ci, "\n%s", tview.Escape(qr))
	}
}
