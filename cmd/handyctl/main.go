package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	handy "github.com/matheus3301/handychat/internal/app"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
)

type contextKey int

const contextKeyClient contextKey = iota

func getClient(ctx *cli.Context) *handy.Client {
	return ctx.Context.Value(contextKeyClient).(*handy.Client)
}

// withClient starts the client graph for the duration of action.
func withClient(action cli.ActionFunc) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		params, err := handy.ResolveParams(ctx.String("profile"), ctx.String("config"), "handyctl")
		if err != nil {
			return err
		}
		var client *handy.Client
		fxApp := fx.New(handy.Module(params), fx.Populate(&client))
		startCtx, cancel := context.WithTimeout(ctx.Context, 15*time.Second)
		defer cancel()
		if err := fxApp.Start(startCtx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = fxApp.Stop(stopCtx)
		}()
		ctx.Context = context.WithValue(ctx.Context, contextKeyClient, client)
		return action(ctx)
	}
}

// requiresAuth fails early for commands that need a session.
func requiresAuth(action cli.ActionFunc) cli.ActionFunc {
	return withClient(func(ctx *cli.Context) error {
		if !getClient(ctx).Session.Active() {
			return fmt.Errorf("not logged in, run 'handyctl login' first")
		}
		return action(ctx)
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var jsonFlag = &cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table"}

func main() {
	app := &cli.App{
		Name:  "handyctl",
		Usage: "Script the handychat client",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "profile", Aliases: []string{"p"}, Usage: "profile name (overrides config default)"},
			&cli.StringFlag{Name: "config", Usage: "path to config.toml"},
		},
		Commands: []*cli.Command{
			loginCommand,
			logoutCommand,
			whoamiCommand,
			conversationsCommand,
			messagesCommand,
			sendCommand,
			readCommand,
			devicesCommand,
			linkCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
