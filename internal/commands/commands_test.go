package commands

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"go-forum/internal/auth"
	"go-forum/internal/config"
	"go-forum/internal/models"
)

func newTestApp(cfg *config.Config, out *bytes.Buffer) *cli.Command {
	flags := &Flags{Config: cfg}
	app := &cli.Command{Name: "forum", Writer: out}
	app = NewTokenCmd(flags).Register(app)
	app = NewMigrateCmd(flags).Register(app)
	return app
}

func TestTokenCmd(t *testing.T) {
	var out bytes.Buffer
	app := newTestApp(&config.Config{AuthSecret: "dev-secret"}, &out)

	err := app.Run(context.Background(), []string{"forum", "token", "--user", "user-7", "--name", "Ada"})
	require.NoError(t, err)

	v, err := auth.NewSecretValidator("dev-secret")
	require.NoError(t, err)
	id, err := v.Validate(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{UserID: "user-7", Name: "Ada"}, id)
}

func TestTokenCmd_RequiresSecret(t *testing.T) {
	var out bytes.Buffer
	app := newTestApp(&config.Config{}, &out)

	err := app.Run(context.Background(), []string{"forum", "token", "--user", "user-7"})
	assert.EqualError(t, err, "AUTH_SECRET is required")
	assert.Empty(t, out.String())
}

func TestMigrateCmd_RequiresDatabase(t *testing.T) {
	var out bytes.Buffer
	app := newTestApp(&config.Config{}, &out)

	err := app.Run(context.Background(), []string{"forum", "migrate"})
	assert.EqualError(t, err, "DATABASE_URL is required")
}

func TestPrintMessage(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local)

	tests := []struct {
		name string
		msg  models.Message
		want string
	}{
		{
			name: "text",
			msg:  models.Message{Seq: 3, SenderID: "user-2", Content: "hi", CreatedAt: created},
			want: "[09:30:00] #3 user-2: hi\n",
		},
		{
			name: "attachment only",
			msg:  models.Message{Seq: 4, SenderID: "user-2", AttachmentRef: "abc.png", CreatedAt: created},
			want: "[09:30:00] #4 user-2: [attachment abc.png]\n",
		},
		{
			name: "text and attachment",
			msg:  models.Message{Seq: 5, SenderID: "user-1", Content: "see", AttachmentRef: "abc.png", CreatedAt: created},
			want: "[09:30:00] #5 user-1: see [attachment abc.png]\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			printMessage(&out, tt.msg)
			assert.Equal(t, tt.want, out.String())
		})
	}
}
