package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/matheus3301/handychat/internal/config"
	"github.com/urfave/cli/v2"
)

var loginCommand = &cli.Command{
	Name:      "login",
	Usage:     "Store an API token for this profile",
	ArgsUsage: "[TOKEN]",
	Action: withClient(func(ctx *cli.Context) error {
		token := ctx.Args().First()
		if token == "" {
			token = os.Getenv(config.EnvToken)
		}
		if token == "" {
			return fmt.Errorf("pass a token or set %s", config.EnvToken)
		}
		client := getClient(ctx)
		if err := client.Login(ctx.Context, token); err != nil {
			return err
		}
		fmt.Printf("logged in as %s\n", client.Session.UserID())
		return nil
	}),
}

var logoutCommand = &cli.Command{
	Name:  "logout",
	Usage: "Unregister this device and forget the token",
	Action: requiresAuth(func(ctx *cli.Context) error {
		return getClient(ctx).Logout(ctx.Context)
	}),
}

var whoamiCommand = &cli.Command{
	Name:  "whoami",
	Usage: "Show the logged-in user",
	Flags: []cli.Flag{jsonFlag},
	Action: requiresAuth(func(ctx *cli.Context) error {
		client := getClient(ctx)
		exp := client.Session.ExpiresAt()
		if ctx.Bool("json") {
			return printJSON(map[string]any{
				"user_id":    client.Session.UserID(),
				"api":        client.Config.API.BaseURL,
				"expires_at": exp,
			})
		}
		fmt.Printf("user:    %s\napi:     %s\n", client.Session.UserID(), client.Config.API.BaseURL)
		if !exp.IsZero() {
			fmt.Printf("expires: %s (%s)\n", exp.Local().Format(time.RFC1123), humanize.Time(exp))
		}
		return nil
	}),
}
