// Package tui is the interactive terminal client.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/handychat/internal/apperr"
	handy "github.com/matheus3301/handychat/internal/app"
	"github.com/matheus3301/handychat/internal/chat"
	"github.com/matheus3301/handychat/internal/model"
	"github.com/matheus3301/handychat/internal/push"
	"github.com/matheus3301/handychat/internal/session"
	"github.com/matheus3301/handychat/internal/tui/keys"
	"github.com/matheus3301/handychat/internal/tui/ui"
	"github.com/matheus3301/handychat/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const pageConversations = "Conversations"

// App is the terminal UI shell around a running client.
type App struct {
	app     *tview.Application
	client  *handy.Client
	profile string
	logger  *zap.Logger

	theme    *ui.Theme
	pages    *ui.Pages
	header   *ui.Header
	crumbs   *ui.Crumbs
	menu     *ui.Menu
	prompt   *ui.Prompt
	flash    *ui.Flash
	flashBar *ui.FlashBar
	layout   *tview.Flex
	registry *keys.Registry

	list     *chat.ListController
	listView *views.ConversationList

	// Owned by the UI goroutine.
	thread     *handy.Thread
	threadView *views.MessageThread
	threadStop chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp builds the UI for client.
func NewApp(client *handy.Client, profile string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()
	a := &App{
		app:      tview.NewApplication(),
		client:   client,
		profile:  profile,
		logger:   client.Logger.Named("tui"),
		theme:    theme,
		pages:    ui.NewPages(),
		header:   ui.NewHeader(theme),
		crumbs:   ui.NewCrumbs(theme),
		menu:     ui.NewMenu(theme),
		prompt:   ui.NewPrompt(theme),
		flash:    ui.NewFlash(),
		flashBar: ui.NewFlashBar(theme),
		registry: keys.NewRegistry(),
		list:     client.Conversations(),
		listView: views.NewConversationList(theme),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.setupLayout()
	a.setupBindings()
	return a
}

func (a *App) setupLayout() {
	top := tview.NewFlex().
		AddItem(a.header, 0, 2, false).
		AddItem(a.menu, 0, 2, false).
		AddItem(ui.NewLogo(a.theme), 18, 0, false)

	a.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(top, 6, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)

	a.pages.SetOnChange(func(stack []string) {
		a.crumbs.Update(stack)
		if c := a.pages.Current(); c != nil {
			a.menu.Update(c.Hints())
		}
	})
	a.pages.Push(a.listView)

	a.listView.SetSelectedFunc(func(_, _ int) {
		if id := a.listView.Selected(); id != "" {
			a.openRoute(chat.Route{ConversationID: id})
		}
	})
	a.listView.SetOnNearEnd(func() {
		go a.report(a.list.LoadMore(a.ctx))
	})

	a.prompt.SetOnSubmit(a.onPrompt)
	a.prompt.SetOnCancel(a.hidePrompt)
	a.app.SetRoot(a.layout, true)
}

func (a *App) setupBindings() {
	r := a.registry
	r.Global(tcell.KeyRune, ':', func() { a.showPrompt(ui.PromptCommand) })
	r.Global(tcell.KeyRune, '?', func() { a.pages.Push(views.NewHelpView(a.theme)) })
	r.Global(tcell.KeyEscape, 0, a.back)

	r.Page(pageConversations, tcell.KeyRune, 'q', a.app.Stop)
	r.Page(pageConversations, tcell.KeyRune, '/', func() { a.showPrompt(ui.PromptFilter) })
	r.Page(pageConversations, tcell.KeyRune, 'r', func() { go a.report(a.list.Refresh(a.ctx)) })

	a.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			if ev.Key() == tcell.KeyEscape && a.threadView != nil && a.app.GetFocus() == a.threadView.Composer() {
				a.app.SetFocus(a.threadView.History())
				return nil
			}
			return ev
		}
		page := ""
		if c := a.pages.Current(); c != nil {
			page = c.Name()
		}
		if a.threadView != nil && page == a.threadView.Name() {
			switch {
			case ev.Key() == tcell.KeyRune && ev.Rune() == 'i':
				a.app.SetFocus(a.threadView.Composer())
				return nil
			case ev.Key() == tcell.KeyRune && ev.Rune() == 'd':
				a.showDetails()
				return nil
			}
		}
		if a.registry.Handle(page, ev) {
			return nil
		}
		return ev
	})
}

// Run blocks until the user quits.
func (a *App) Run() error {
	go a.watchList()
	go a.tick()
	go func() {
		a.app.QueueUpdateDraw(a.renderHeader)
		if !a.client.Session.Active() {
			a.app.QueueUpdateDraw(func() { a.showPrompt(ui.PromptToken) })
			a.flash.Info("Paste your API token to log in")
			return
		}
		a.afterLogin()
	}()
	defer a.stop()
	return a.app.Run()
}

func (a *App) stop() {
	a.cancel()
	a.closeThread()
	a.list.Close()
}

func (a *App) afterLogin() {
	ob := a.client.Onboarding
	if ob.Pending(a.ctx, session.StepWelcome) {
		a.flash.Info("Welcome! Press ? for keys and commands")
		if err := ob.Complete(a.ctx, session.StepWelcome); err != nil {
			a.logger.Warn("onboarding flag not saved", zap.Error(err))
		}
	}
	a.report(a.list.Load(a.ctx))
	a.app.QueueUpdateDraw(func() {
		a.listView.SetSelf(a.client.Session.UserID())
		a.renderList()
	})
}

func (a *App) watchList() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.list.Changes():
			a.app.QueueUpdateDraw(a.renderList)
		}
	}
}

// tick expires flash messages and refreshes the header.
func (a *App) tick() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-t.C:
			a.app.QueueUpdateDraw(func() {
				a.flashBar.Update(a.flash.Current())
				a.renderHeader()
			})
		}
	}
}

func (a *App) renderList() {
	a.listView.Update(a.list.Conversations(), a.list.HasMore())
	a.renderHeader()
}

func (a *App) renderHeader() {
	stale := a.list.MaybeStale()
	if a.thread != nil {
		stale = stale || a.thread.MaybeStale()
	}
	a.header.Update(ui.HeaderData{
		Profile:  a.profile,
		UserID:   a.client.Session.UserID(),
		API:      a.client.Config.API.BaseURL,
		Unread:   a.list.TotalUnread(),
		Stale:    stale,
		Outgoing: len(a.client.Pipeline.Failed()),
	})
}

// report flashes err unless it is nil or a cancellation.
func (a *App) report(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	a.logger.Debug("ui error", zap.Error(err))
	a.flash.Err(apperr.UserMessage(err))
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.layout.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.layout.ResizeItem(a.prompt, 0, 0)
	a.app.SetFocus(a.pages)
}

func (a *App) onPrompt(mode ui.PromptMode, text string) {
	a.hidePrompt()
	switch mode {
	case ui.PromptFilter:
		a.listView.SetFilter(text)
	case ui.PromptToken:
		go func() {
			if err := a.client.Login(a.ctx, text); err != nil {
				a.flash.Err("Login failed: " + err.Error())
				a.app.QueueUpdateDraw(func() { a.showPrompt(ui.PromptToken) })
				return
			}
			a.afterLogin()
		}()
	default:
		a.runCommand(ParseCommand(text))
	}
}

func (a *App) back() {
	if a.pages.Current() == a.listView {
		a.listView.SetFilter("")
		return
	}
	if c := a.pages.Pop(); c == a.threadView {
		a.closeThread()
	}
	a.app.SetFocus(a.pages)
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "q", "quit":
		a.app.Stop()
	case "h", "help":
		a.pages.Push(views.NewHelpView(a.theme))
	case "login":
		a.showPrompt(ui.PromptToken)
	case "logout":
		go func() {
			a.report(a.client.Logout(a.ctx))
			a.app.QueueUpdateDraw(func() {
				a.closeThread()
				a.pages.Reset()
				a.showPrompt(ui.PromptToken)
			})
		}()
	case "refresh":
		if a.thread != nil {
			th := a.thread
			go a.report(th.Refresh(a.ctx))
		} else {
			go a.report(a.list.Refresh(a.ctx))
		}
	case "new":
		if cmd.Arg(0) == "" {
			a.flash.Warn("usage: :new <recipient> [job]")
			return
		}
		a.openRoute(chat.Route{RecipientID: cmd.Arg(0), JobID: cmd.Arg(1)})
	case "open":
		route, err := push.ParseLink(cmd.Arg(0))
		if err != nil {
			a.flash.Err(err.Error())
			return
		}
		a.openRoute(route)
	case "attach", "detach", "retry":
		a.threadCommand(cmd)
	default:
		a.flash.Warn(fmt.Sprintf("unknown command %q", cmd.Name))
	}
}

func (a *App) openRoute(route chat.Route) {
	a.closeThread()
	a.pages.Reset()

	th := a.client.OpenThread(route)
	view := views.NewMessageThread(a.theme, th.Title(a.client.Session.UserID()))
	view.SetSelf(a.client.Session.UserID())
	view.SetOnSend(a.onComposer)
	view.SetOnOlder(func() { go a.report(th.LoadMore(a.ctx)) })

	a.thread, a.threadView = th, view
	a.threadStop = make(chan struct{})
	a.pages.Push(view)
	a.app.SetFocus(view.History())
	th.Focus()

	stop := a.threadStop
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-th.Changes():
				a.app.QueueUpdateDraw(func() {
					if a.thread == th {
						a.renderThread()
					}
				})
			}
		}
	}()
	go func() {
		a.report(th.Open(a.ctx))
		a.app.QueueUpdateDraw(func() {
			if a.thread == th {
				a.renderThread()
			}
		})
	}()

	if a.client.Onboarding.Pending(a.ctx, session.StepAttachHint) {
		a.flash.Info("Type /attach <path> in the composer to add a photo or video")
		_ = a.client.Onboarding.Complete(a.ctx, session.StepAttachHint)
	}
}

func (a *App) closeThread() {
	if a.thread == nil {
		return
	}
	close(a.threadStop)
	a.thread.Close()
	a.thread, a.threadView, a.threadStop = nil, nil, nil
}

func (a *App) renderThread() {
	th, view := a.thread, a.threadView
	status := ""
	if err := th.Err(); err != nil {
		status = apperr.UserMessage(err)
	} else if th.MaybeStale() {
		status = "Showing saved messages; refresh failed"
	}
	view.SetTitle(th.Title(a.client.Session.UserID()))
	view.Update(th.Messages(), th.HasMore(), status)
	view.SetDraft(th.Draft())
	a.crumbs.Update(a.pages.Names())
}

func (a *App) onComposer(text string) {
	cmd, body, isCmd := ParseComposer(text)
	if isCmd {
		a.threadCommand(cmd)
		return
	}
	th := a.thread
	go func() {
		h, err := th.Submit(a.ctx, body)
		if err != nil {
			a.report(err)
			return
		}
		a.app.QueueUpdateDraw(func() {
			if a.thread == th {
				a.renderThread()
			}
		})
		// The bus redraws the thread; only failures need a flash.
		go func() {
			if _, err := h.Wait(a.ctx); err != nil {
				a.report(err)
			}
		}()
	}()
}

func (a *App) threadCommand(cmd Command) {
	th := a.thread
	if th == nil {
		a.flash.Warn("open a conversation first")
		return
	}
	switch cmd.Name {
	case "attach":
		path := cmd.Rest()
		if path == "" {
			a.flash.Warn("usage: /attach <path>")
			return
		}
		go func() {
			if _, err := th.Attach(a.ctx, path); err != nil {
				a.report(err)
				return
			}
			a.app.QueueUpdateDraw(func() {
				if a.thread == th {
					a.threadView.SetDraft(th.Draft())
				}
			})
		}()
	case "detach":
		n, err := strconv.Atoi(cmd.Arg(0))
		if err == nil {
			err = th.RemoveAttachment(n)
		}
		if err != nil {
			a.flash.Warn("usage: /detach <n>")
			return
		}
		a.threadView.SetDraft(th.Draft())
	case "retry":
		var failed []model.Message
		for _, m := range th.Messages() {
			if m.Status == model.StatusFailed {
				failed = append(failed, m)
			}
		}
		if len(failed) == 0 {
			a.flash.Info("nothing to retry")
			return
		}
		go func() {
			for _, m := range failed {
				if _, err := th.Retry(a.ctx, m.ClientID); err != nil && !errors.Is(err, context.Canceled) {
					a.report(err)
				}
			}
		}()
	default:
		a.runCommand(cmd)
	}
}

func (a *App) showDetails() {
	th := a.thread
	conv, ok := th.Conversation()
	if !ok {
		a.flash.Info("conversation not created yet")
		return
	}
	info := views.NewConversationInfo(a.theme)
	info.Update(conv, push.BuildLink(chat.Route{ConversationID: conv.ID}))
	a.pages.Push(info)
}
