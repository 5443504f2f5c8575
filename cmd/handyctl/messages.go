package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	handy "github.com/matheus3301/handychat/internal/app"
	"github.com/matheus3301/handychat/internal/apperr"
	"github.com/matheus3301/handychat/internal/chat"
	"github.com/urfave/cli/v2"
)

var messagesCommand = &cli.Command{
	Name:      "messages",
	Usage:     "Print a conversation, oldest first",
	ArgsUsage: "CONVERSATION",
	Flags: []cli.Flag{
		jsonFlag,
		&cli.IntFlag{Name: "pages", Value: 1, Usage: "number of pages to load"},
	},
	Action: requiresAuth(func(ctx *cli.Context) error {
		id := ctx.Args().First()
		if id == "" {
			return fmt.Errorf("conversation id required")
		}
		client := getClient(ctx)
		th := client.OpenThread(chat.Route{ConversationID: id})
		defer th.Close()

		if err := th.Open(ctx.Context); err != nil {
			return err
		}
		for i := 1; i < ctx.Int("pages") && th.HasMore(); i++ {
			if err := th.LoadMore(ctx.Context); err != nil {
				return err
			}
		}

		msgs := th.Messages()
		if ctx.Bool("json") {
			return printJSON(msgs)
		}
		self := client.Session.UserID()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, m := range msgs {
			who := m.SenderID
			if who == self {
				who = "you"
			}
			body := m.Body
			if n := len(m.Attachments); n > 0 {
				body += fmt.Sprintf(" [%d attachment(s)]", n)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), who, m.Status, body)
		}
		return w.Flush()
	}),
}

var sendCommand = &cli.Command{
	Name:      "send",
	Usage:     "Send a message, optionally with photos and videos",
	ArgsUsage: "CONVERSATION|new BODY",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{Name: "attach", Aliases: []string{"a"}, Usage: "file to attach (repeatable)"},
		&cli.StringFlag{Name: "to", Usage: "recipient ID when starting a new conversation"},
		&cli.StringFlag{Name: "job", Usage: "job ID for a new conversation"},
		&cli.DurationFlag{Name: "timeout", Value: 5 * time.Minute, Usage: "how long to wait for delivery"},
	},
	Action: requiresAuth(func(ctx *cli.Context) error {
		route := chat.Route{
			ConversationID: ctx.Args().Get(0),
			RecipientID:    ctx.String("to"),
			JobID:          ctx.String("job"),
		}
		if route.IsNew() && route.RecipientID == "" {
			return fmt.Errorf("give a conversation id or --to")
		}
		return send(ctx.Context, getClient(ctx), route, ctx.Args().Get(1), ctx.StringSlice("attach"), ctx.Duration("timeout"))
	}),
}

func send(ctx context.Context, client *handy.Client, route chat.Route, body string, files []string, timeout time.Duration) error {
	th := client.OpenThread(route)
	defer th.Close()

	// Rejected files are reported and skipped; the rest still go out.
	for _, path := range files {
		if _, err := th.Attach(ctx, path); err != nil {
			if !apperr.Is(err, apperr.Validation) {
				return err
			}
			fmt.Fprintf(os.Stderr, "skipping %s: %s\n", path, apperr.UserMessage(err))
		}
	}

	h, err := th.Submit(ctx, body)
	if err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		select {
		case u, ok := <-h.Updates():
			if !ok {
				last := h.Last()
				if last.Err != nil {
					return fmt.Errorf("%s: %w", apperr.UserMessage(last.Err), last.Err)
				}
				fmt.Printf("sent %s to %s\n", last.Message.ID, last.Message.ConversationID)
				return nil
			}
			fmt.Fprintf(os.Stderr, "%s\n", u.State)
		case <-waitCtx.Done():
			return fmt.Errorf("message %s still %s: %w", h.ClientID(), h.Last().State, waitCtx.Err())
		}
	}
}

var readCommand = &cli.Command{
	Name:      "read",
	Usage:     "Mark a conversation as read",
	ArgsUsage: "CONVERSATION",
	Action: requiresAuth(func(ctx *cli.Context) error {
		id := ctx.Args().First()
		if id == "" {
			return fmt.Errorf("conversation id required")
		}
		client := getClient(ctx)
		if _, err := client.Cache.LoadConversations(ctx.Context, 1); err != nil {
			return err
		}
		before := client.Cache.UnreadCount(id)
		if err := client.Reads.MarkRead(ctx.Context, id); err != nil {
			return err
		}
		fmt.Printf("%s: %d unread cleared\n", id, before)
		return nil
	}),
}

