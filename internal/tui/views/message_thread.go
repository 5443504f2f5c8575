package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/handychat/internal/model"
	"github.com/matheus3301/handychat/internal/tui/ui"
	"github.com/rivo/tview"
)

// MessageThread shows one conversation: history on top, pending
// attachments and the composer below.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	history  *tview.TextView
	draft    *tview.TextView
	composer *tview.InputField
	name     string // page key; fixed so the stack can find the page again
	selfID   string
	now      func() time.Time

	onSend  func(text string)
	onOlder func()
}

// NewMessageThread creates the thread page.
func NewMessageThread(theme *ui.Theme, title string) *MessageThread {
	history := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	history.SetBorder(true)
	history.SetBorderColor(theme.Border)
	history.SetBackgroundColor(theme.Bg)
	history.SetTextColor(theme.Fg)
	history.SetTitleColor(theme.Title)

	draft := tview.NewTextView().SetDynamicColors(true)
	draft.SetBackgroundColor(theme.Bg)

	composer := tview.NewInputField().SetLabel(" > ").SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.Border)
	composer.SetBackgroundColor(theme.Bg)
	composer.SetFieldBackgroundColor(theme.Bg)
	composer.SetFieldTextColor(theme.Fg)
	composer.SetLabelColor(theme.Key)
	composer.SetTitle(" Message (i to focus, /attach <path>) ")
	composer.SetTitleColor(theme.Title)

	mt := &MessageThread{
		Flex: tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(history, 0, 1, true).
			AddItem(draft, 0, 0, false).
			AddItem(composer, 3, 0, false),
		theme:    theme,
		history:  history,
		draft:    draft,
		composer: composer,
		now:      time.Now,
		name:     title,
	}
	if mt.name == "" {
		mt.name = "Conversation"
	}
	mt.SetTitle(title)

	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || mt.onSend == nil {
			return
		}
		if text := strings.TrimSpace(composer.GetText()); text != "" {
			mt.onSend(text)
			composer.SetText("")
		}
	})
	history.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		up := ev.Key() == tcell.KeyUp || ev.Key() == tcell.KeyPgUp || (ev.Key() == tcell.KeyRune && ev.Rune() == 'k')
		if row, _ := history.GetScrollOffset(); up && row == 0 && mt.onOlder != nil {
			mt.onOlder()
		}
		return ev
	})
	return mt
}

func (mt *MessageThread) Name() string { return mt.name }

func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "d", Description: "Details"},
		{Key: "k/Up", Description: "Older"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
	}
}

// SetTitle updates the border title.
func (mt *MessageThread) SetTitle(title string) {
	mt.history.SetTitle(" " + clean(title) + " ")
}

func (mt *MessageThread) SetSelf(id string)           { mt.selfID = id }
func (mt *MessageThread) SetOnSend(fn func(string))   { mt.onSend = fn }
func (mt *MessageThread) SetOnOlder(fn func())        { mt.onOlder = fn }
func (mt *MessageThread) Composer() *tview.InputField { return mt.composer }
func (mt *MessageThread) History() *tview.TextView    { return mt.history }

// Update redraws the history, oldest first. hasMore adds a hint that older
// pages exist; status is an inline error or staleness line.
func (mt *MessageThread) Update(msgs []model.Message, hasMore bool, status string) {
	row, _ := mt.history.GetScrollOffset()
	atBottom := row >= mt.history.GetOriginalLineCount()-mt.visibleRows()
	mt.history.Clear()

	if hasMore {
		_, _ = fmt.Fprintf(mt.history, "[%s]  ↑ older messages[-]\n\n", ui.Tag(mt.theme.Pending))
	}
	now := mt.now()
	for _, m := range msgs {
		sender, color := "Them", mt.theme.Peer
		if m.SenderID == mt.selfID || m.LocalSeq > 0 {
			sender, color = "You", mt.theme.Own
		}
		_, _ = fmt.Fprintf(mt.history, "[%s::b]%s[-:-:-] [::d]%s %s[-:-:-]\n",
			ui.Tag(color), sender, formatTimestamp(m.CreatedAt, now), statusGlyph(m))
		if m.Body != "" {
			_, _ = fmt.Fprintf(mt.history, "%s\n", clean(m.Body))
		}
		for _, a := range m.Attachments {
			_, _ = fmt.Fprintf(mt.history, "[%s]  %s[-]\n", ui.Tag(mt.theme.Pending), clean("["+describeAttachment(a)+"]"))
		}
		if m.Status == model.StatusFailed {
			_, _ = fmt.Fprintf(mt.history, "[%s]  not sent: %s (:retry)[-]\n", ui.Tag(mt.theme.Failed), clean(m.Error))
		}
		_, _ = fmt.Fprint(mt.history, "\n")
	}
	if status != "" {
		_, _ = fmt.Fprintf(mt.history, "[%s]%s[-]\n", ui.Tag(mt.theme.Warn), clean(status))
	}
	if atBottom {
		mt.history.ScrollToEnd()
	}
}

func (mt *MessageThread) visibleRows() int {
	_, _, _, h := mt.history.GetInnerRect()
	return h
}

// SetDraft lists the attachments waiting to be sent with the next message.
func (mt *MessageThread) SetDraft(atts []model.Attachment) {
	mt.draft.Clear()
	height := 0
	for i, a := range atts {
		_, _ = fmt.Fprintf(mt.draft, " [%s]%d:[-] %s\n", ui.Tag(mt.theme.Key), i, describeAttachment(a))
		height++
	}
	mt.ResizeItem(mt.draft, height, 0)
}
