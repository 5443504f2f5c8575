package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

var devicesCommand = &cli.Command{
	Name:  "devices",
	Usage: "Manage the push token registered for this profile",
	Subcommands: []*cli.Command{
		{
			Name:      "register",
			Usage:     "Register a push token, replacing the current one",
			ArgsUsage: "TOKEN",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "platform", Value: "terminal", Usage: "device platform reported to the server"},
			},
			Action: requiresAuth(func(ctx *cli.Context) error {
				token := ctx.Args().First()
				if token == "" {
					return fmt.Errorf("push token required")
				}
				return getClient(ctx).Devices.Register(ctx.Context, token, ctx.String("platform"))
			}),
		},
		{
			Name:  "unregister",
			Usage: "Unregister the current push token",
			Action: requiresAuth(func(ctx *cli.Context) error {
				return getClient(ctx).Devices.Unregister(ctx.Context)
			}),
		},
		{
			Name:  "show",
			Usage: "Print the registered push token",
			Action: withClient(func(ctx *cli.Context) error {
				token, err := getClient(ctx).Devices.Current(ctx.Context)
				if err != nil {
					return err
				}
				if token == "" {
					fmt.Println("no device registered")
					return nil
				}
				fmt.Println(token)
				return nil
			}),
		},
	},
}
