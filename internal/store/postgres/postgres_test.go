//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"go-forum/internal/forum"
	"go-forum/internal/store/storetest"
)

// setupTestPostgres starts a throwaway Postgres and returns a migrated store.
func setupTestPostgres(t *testing.T, ctx context.Context) *Store {
	t.Helper()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("forum"),
		tcpostgres.WithUsername("forum"),
		tcpostgres.WithPassword("forum"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate Postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, dsn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx))
	// Migrate must be repeatable.
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := setupTestPostgres(t, ctx)

	storetest.Run(t, func(t *testing.T) forum.Store {
		_, err := s.db.Exec(ctx, `TRUNCATE messages, topics`)
		require.NoError(t, err)
		return s
	})
}
