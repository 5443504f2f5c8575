package main

import (
	"fmt"

	"github.com/matheus3301/handychat/internal/chat"
	"github.com/matheus3301/handychat/internal/push"
	"github.com/urfave/cli/v2"
)

var linkCommand = &cli.Command{
	Name:      "link",
	Usage:     "Print a deep link to a conversation, or decode one",
	ArgsUsage: "CONVERSATION|LINK",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "recipient", Usage: "link to a new conversation with this user"},
		&cli.StringFlag{Name: "name", Usage: "recipient display name"},
		&cli.StringFlag{Name: "job", Usage: "job ID for a new conversation"},
		&cli.BoolFlag{Name: "qr", Usage: "also render the link as a QR code"},
	},
	Action: func(ctx *cli.Context) error {
		arg := ctx.Args().First()

		// A full link is decoded rather than built.
		if route, err := push.ParseLink(arg); err == nil {
			if route.IsNew() {
				fmt.Printf("new conversation with %s", route.RecipientID)
				if route.JobID != "" {
					fmt.Printf(" (job %s)", route.JobID)
				}
				fmt.Println()
				return nil
			}
			fmt.Printf("conversation %s\n", route.ConversationID)
			return nil
		}

		route := chat.Route{
			ConversationID: arg,
			RecipientID:    ctx.String("recipient"),
			RecipientName:  ctx.String("name"),
			JobID:          ctx.String("job"),
		}
		if route.IsNew() && route.RecipientID == "" {
			return fmt.Errorf("give a conversation id, a link or --recipient")
		}
		link := push.BuildLink(route)
		fmt.Println(link)
		if ctx.Bool("qr") {
			qr, err := push.QR(link)
			if err != nil {
				return err
			}
			fmt.Print(qr)
		}
		return nil
	},
}
