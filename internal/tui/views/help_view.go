package views

import (
	"fmt"

	"github.com/matheus3301/handychat/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView lists keys and commands.
type HelpView struct {
	*tview.TextView
}

var helpSections = []struct {
	title string
	rows  [][2]string
}{
	{"Global", [][2]string{
		{":", "Command mode"},
		{"Esc", "Back"},
		{"?", "This help"},
		{"q", "Quit from the list"},
	}},
	{"Conversations", [][2]string{
		{"Enter", "Open conversation"},
		{"/", "Filter by name or preview"},
		{"r", "Refresh"},
	}},
	{"Conversation", [][2]string{
		{"i", "Focus the composer"},
		{"k/Up", "Scroll; at the top loads older messages"},
		{"d", "Details and deep link"},
	}},
	{"Commands", [][2]string{
		{":attach <path>", "Add a photo or video to the next message"},
		{":detach <n>", "Remove draft attachment n"},
		{":retry", "Resend failed messages in this conversation"},
		{":new <recipient> [job]", "Start a conversation"},
		{":open <link>", "Open a handychat:// link"},
		{":login / :logout", "Start or end the session"},
		{":refresh", "Reload the current page"},
		{":quit", "Quit"},
	}},
}

// NewHelpView creates the help page.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.Border)
	tv.SetBackgroundColor(theme.Bg)
	tv.SetTextColor(theme.Fg)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.Title)

	kc := ui.Tag(theme.Key)
	for _, s := range helpSections {
		_, _ = fmt.Fprintf(tv, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, r := range s.rows {
			_, _ = fmt.Fprintf(tv, "  [%s]%-24s[-] %s\n", kc, tview.Escape(r[0]), r[1])
		}
	}
	return &HelpView{TextView: tv}
}

func (hv *HelpView) Name() string { return "Help" }

func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "Esc", Description: "Back"}}
}
