package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"go-forum/internal/auth"
)

type TokenCmd struct {
	flags *Flags

	userID string
	name   string
	ttl    time.Duration
}

// NewTokenCmd creates a new token command
func NewTokenCmd(flags *Flags) *TokenCmd {
	return &TokenCmd{flags: flags}
}

// Register adds the token command to the application
func (cmd *TokenCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "token",
		Usage:     "Issue a development token signed with AUTH_SECRET",
		UsageText: "forum token --user <id> [--name <display name>] [--ttl 24h]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "user",
				Usage:       "user id to put in the token subject",
				Required:    true,
				Destination: &cmd.userID,
			},
			&cli.StringFlag{
				Name:        "name",
				Usage:       "display name",
				Destination: &cmd.name,
			},
			&cli.DurationFlag{
				Name:        "ttl",
				Usage:       "token lifetime",
				Value:       24 * time.Hour,
				Destination: &cmd.ttl,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *TokenCmd) run(ctx context.Context, c *cli.Command) error {
	secret := cmd.flags.Config.AuthSecret
	if secret == "" {
		return errors.New("AUTH_SECRET is required")
	}

	token, err := auth.IssueToken(secret, cmd.userID, cmd.name, cmd.ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Fprintln(c.Root().Writer, token)
	return nil
}
