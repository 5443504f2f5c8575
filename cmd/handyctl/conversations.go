package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

var conversationsCommand = &cli.Command{
	Name:    "conversations",
	Aliases: []string{"ls"},
	Usage:   "List conversations, most recent first",
	Flags: []cli.Flag{
		jsonFlag,
		&cli.IntFlag{Name: "pages", Value: 1, Usage: "number of pages to load"},
	},
	Action: requiresAuth(func(ctx *cli.Context) error {
		client := getClient(ctx)
		list := client.Conversations()
		defer list.Close()

		if err := list.Load(ctx.Context); err != nil {
			return err
		}
		for i := 1; i < ctx.Int("pages") && list.HasMore(); i++ {
			if err := list.LoadMore(ctx.Context); err != nil {
				return err
			}
		}

		convs := list.Conversations()
		if ctx.Bool("json") {
			return printJSON(convs)
		}
		self := client.Session.UserID()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tWITH\tUNREAD\tLAST\tPREVIEW")
		for _, c := range convs {
			unread := ""
			if c.UnreadCount > 0 {
				unread = strconv.Itoa(c.UnreadCount)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Peer(self).Name, unread,
				humanize.Time(c.LastActivityAt), c.LastMessagePreview)
		}
		if list.HasMore() {
			fmt.Fprintln(w, "…\t\t\t\t(more with --pages)")
		}
		return w.Flush()
	}),
}
