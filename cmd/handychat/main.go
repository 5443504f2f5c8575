package main

import (
	"context"
	"fmt"
	"os"
	"time"

	handy "github.com/matheus3301/handychat/internal/app"
	"github.com/matheus3301/handychat/internal/tui"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
)

func main() {
	app := &cli.App{
		Name:  "handychat",
		Usage: "Chat with homeowners and handymen from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "profile", Aliases: []string{"p"}, Usage: "profile name (overrides config default)"},
			&cli.StringFlag{Name: "config", Usage: "path to config.toml"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	params, err := handy.ResolveParams(c.String("profile"), c.String("config"), "handychat")
	if err != nil {
		return err
	}
	params.Exclusive = true

	var client *handy.Client
	fxApp := fx.New(handy.Module(params), fx.Populate(&client))
	startCtx, cancel := context.WithTimeout(c.Context, 15*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = fxApp.Stop(stopCtx)
	}()

	return tui.NewApp(client, params.Profile).Run()
}
