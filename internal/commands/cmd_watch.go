package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"go-forum/internal/models"
	"go-forum/internal/viewer"
)

type WatchCmd struct {
	flags *Flags

	server string
	token  string
	topic  string
	chat   bool
}

// NewWatchCmd creates a new watch command
func NewWatchCmd(flags *Flags) *WatchCmd {
	return &WatchCmd{flags: flags}
}

// Register adds the watch command to the application
func (cmd *WatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "watch",
		Usage:     "Follow a topic from the terminal",
		UsageText: "forum watch --topic <id> [--chat]",
		Description: `Prints the recent history of a topic and then every new message as it
arrives. With --chat, lines read from stdin are posted to the topic.

The connection is re-established after a drop and any messages missed in the
meantime are fetched, so nothing is skipped or printed twice.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "server",
				Usage:       "forum server base URL",
				Sources:     cli.EnvVars("FORUM_SERVER"),
				Value:       "http://localhost:8080",
				Destination: &cmd.server,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "bearer token",
				Sources:     cli.EnvVars("FORUM_TOKEN"),
				Destination: &cmd.token,
			},
			&cli.StringFlag{
				Name:        "topic",
				Aliases:     []string{"t"},
				Usage:       "topic id",
				Required:    true,
				Destination: &cmd.topic,
			},
			&cli.BoolFlag{
				Name:        "chat",
				Usage:       "post lines from stdin",
				Destination: &cmd.chat,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *WatchCmd) run(ctx context.Context, c *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	v, err := viewer.New(viewer.Options{BaseURL: cmd.server, Token: cmd.token}, log.Logger)
	if err != nil {
		return err
	}
	defer v.Close()

	if err := v.Open(ctx, cmd.topic); err != nil {
		return fmt.Errorf("open topic %s: %w", cmd.topic, err)
	}

	if cmd.chat {
		go cmd.readInput(ctx, v, c.Root().Reader)
	}

	return follow(ctx, v, c.Root().Writer)
}

// follow prints new messages until ctx is done or the topic goes away.
func follow(ctx context.Context, v *viewer.Viewer, out io.Writer) error {
	var printed int64
	backoff := time.Second

	for {
		for _, m := range v.Messages() {
			if m.Seq > printed {
				printMessage(out, m)
				printed = m.Seq
			}
		}

		if v.Deleted() {
			fmt.Fprintln(out, "-- topic was deleted")
			return nil
		}

		if !v.Connected() {
			log.Warn().Dur("retry_in", backoff).Msg("disconnected")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}

			if err := v.Resync(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error().Err(err).Msg("resync failed")
				backoff = min(backoff*2, 30*time.Second)
				continue
			}
			backoff = time.Second
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-v.Updates():
		}
	}
}

func (cmd *WatchCmd) readInput(ctx context.Context, v *viewer.Viewer, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := v.Send(ctx, line, ""); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Msg("failed to send message")
		}
	}
}

func printMessage(out io.Writer, m models.Message) {
	body := m.Content
	if m.AttachmentRef != "" {
		body = strings.TrimSpace(body + " [attachment " + m.AttachmentRef + "]")
	}
	fmt.Fprintf(out, "[%s] #%d %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), m.Seq, m.SenderID, body)
}
