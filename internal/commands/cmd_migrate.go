package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"go-forum/internal/store/postgres"
)

type MigrateCmd struct {
	flags *Flags

	databaseURL string
}

// NewMigrateCmd creates a new migrate command
func NewMigrateCmd(flags *Flags) *MigrateCmd {
	return &MigrateCmd{flags: flags}
}

// Register adds the migrate command to the application
func (cmd *MigrateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "migrate",
		Usage:       "Create the Postgres tables",
		UsageText:   "forum migrate [--database-url URL]",
		Description: "Applies the schema. Safe to run against an already migrated database.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "database-url",
				Usage:       "Postgres connection string (overrides DATABASE_URL)",
				Destination: &cmd.databaseURL,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *MigrateCmd) run(ctx context.Context, c *cli.Command) error {
	dsn := cmd.flags.Config.DatabaseURL
	if c.IsSet("database-url") {
		dsn = cmd.databaseURL
	}
	if dsn == "" {
		return errors.New("DATABASE_URL is required")
	}

	store, err := postgres.Open(ctx, dsn, log.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	fmt.Fprintln(c.Root().Writer, "schema is up to date")
	return nil
}
