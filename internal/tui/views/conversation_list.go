package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/handychat/internal/model"
	"github.com/matheus3301/handychat/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationList is the root page: one row per conversation, most recent
// activity first.
type ConversationList struct {
	*tview.Table
	theme   *ui.Theme
	selfID  string
	convs   []model.Conversation
	visible []int // indexes into convs after filtering
	filter  string
	hasMore bool
	now     func() time.Time

	onNearEnd func()
}

// NewConversationList creates the list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.Border)
	table.SetBackgroundColor(theme.Bg)
	table.SetSelectedStyle(tcell.StyleDefault.Foreground(theme.CursorFg).Background(theme.CursorBg))
	table.SetTitleColor(theme.Title)

	cl := &ConversationList{Table: table, theme: theme, now: time.Now}
	table.SetSelectionChangedFunc(func(row, _ int) {
		if cl.hasMore && cl.onNearEnd != nil && row >= table.GetRowCount()-3 {
			cl.onNearEnd()
		}
	})
	cl.render()
	return cl
}

func (cl *ConversationList) Name() string { return "Conversations" }

func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "/", Description: "Filter"},
		{Key: ":", Description: "Command"},
		{Key: "r", Description: "Refresh"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
	}
}

// SetOnNearEnd registers the callback fired when the cursor nears the last
// row while more pages exist.
func (cl *ConversationList) SetOnNearEnd(fn func()) { cl.onNearEnd = fn }

// SetSelf sets the user ID used to pick the peer's name.
func (cl *ConversationList) SetSelf(id string) { cl.selfID = id }

// Update replaces the rows, keeping the cursor on the same conversation.
func (cl *ConversationList) Update(convs []model.Conversation, hasMore bool) {
	selected := cl.Selected()
	cl.convs, cl.hasMore = convs, hasMore
	cl.render()
	cl.selectID(selected)
}

// SetFilter narrows the rows to names or previews containing filter.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
}

func (cl *ConversationList) render() {
	cl.Clear()
	for col, h := range []struct {
		text string
		exp  int
	}{{" NAME", 1}, {" LAST MESSAGE", 3}, {" TIME", 0}} {
		cl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.HeaderFg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	cl.visible = cl.visible[:0]
	now := cl.now()
	for i := range cl.convs {
		c := &cl.convs[i]
		name := c.Peer(cl.selfID).Name
		if name == "" {
			name = c.ID
		}
		if cl.filter != "" && !containsFold(name, cl.filter) && !containsFold(c.LastMessagePreview, cl.filter) {
			continue
		}
		cl.visible = append(cl.visible, i)

		fg := cl.theme.Fg
		attrs := tcell.AttrNone
		if c.UnreadCount > 0 {
			name = fmt.Sprintf("(%d) %s", c.UnreadCount, name)
			fg, attrs = cl.theme.HeaderFg, tcell.AttrBold
		}
		row := len(cl.visible)
		cl.SetCell(row, 0, tview.NewTableCell(" "+clean(name)).SetExpansion(1).SetTextColor(fg).SetAttributes(attrs))
		cl.SetCell(row, 1, tview.NewTableCell(" "+clean(c.LastMessagePreview)).SetExpansion(3).SetTextColor(fg))
		cl.SetCell(row, 2, tview.NewTableCell(formatTimestamp(c.LastActivityAt, now)).SetTextColor(fg).SetAlign(tview.AlignRight))
	}

	title := fmt.Sprintf(" Conversations (%d) ", len(cl.convs))
	if cl.filter != "" {
		title = fmt.Sprintf(" Conversations (%d/%d) /%s ", len(cl.visible), len(cl.convs), cl.filter)
	}
	cl.SetTitle(title)
}

// Selected returns the conversation ID under the cursor.
func (cl *ConversationList) Selected() string {
	row, _ := cl.GetSelection()
	if row < 1 || row > len(cl.visible) {
		return ""
	}
	return cl.convs[cl.visible[row-1]].ID
}

func (cl *ConversationList) selectID(id string) {
	for row, i := range cl.visible {
		if cl.convs[i].ID == id {
			cl.Select(row+1, 0)
			return
		}
	}
	if len(cl.visible) > 0 {
		cl.Select(1, 0)
	}
}
