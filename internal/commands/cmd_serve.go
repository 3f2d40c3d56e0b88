package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"go-forum/internal/api"
	"go-forum/internal/auth"
	"go-forum/internal/config"
	"go-forum/internal/forum"
	"go-forum/internal/idgen"
	"go-forum/internal/media"
	"go-forum/internal/media/fs"
	"go-forum/internal/media/s3"
	"go-forum/internal/redis"
	"go-forum/internal/store/memory"
	"go-forum/internal/store/postgres"
	"go-forum/internal/ws"
)

type ServeCmd struct {
	flags *Flags

	port        string
	databaseURL string
	redisURL    string
	migrate     bool
}

// NewServeCmd creates a new serve command
func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

// Register adds the serve command to the application
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run the forum server",
		UsageText: "forum serve [--port 8080] [--database-url URL] [--redis-url URL]",
		Description: `Serves the REST API, the WebSocket endpoint and the ops routes.

Without a database URL topics and messages live in memory and are lost on
restart. Without a Redis URL events only reach clients connected to this
process.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "port",
				Usage:       "HTTP port (overrides PORT)",
				Destination: &cmd.port,
			},
			&cli.StringFlag{
				Name:        "database-url",
				Usage:       "Postgres connection string (overrides DATABASE_URL)",
				Destination: &cmd.databaseURL,
			},
			&cli.StringFlag{
				Name:        "redis-url",
				Usage:       "Redis URL for cross-node fan-out (overrides REDIS_URL)",
				Destination: &cmd.redisURL,
			},
			&cli.BoolFlag{
				Name:        "migrate",
				Usage:       "apply the database schema before serving",
				Destination: &cmd.migrate,
			},
		},
		Action: cmd.Run,
	})

	return app
}

// Run starts the server and blocks until it is interrupted.
func (cmd *ServeCmd) Run(ctx context.Context, c *cli.Command) error {
	cfg := *cmd.flags.Config
	if c.IsSet("port") {
		cfg.Port = cmd.port
	}
	if c.IsSet("database-url") {
		cfg.DatabaseURL = cmd.databaseURL
	}
	if c.IsSet("redis-url") {
		cfg.RedisURL = cmd.redisURL
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cmd.serve(ctx, &cfg, log.Logger)
}

func (cmd *ServeCmd) serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	var checks []api.DependencyCheck

	store, closeStore, err := openStore(ctx, cfg, cmd.migrate, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	if pg, ok := store.(*postgres.Store); ok {
		checks = append(checks, api.DependencyCheck{Name: "postgres", Check: pg.Ping})
	}

	ids, err := idgen.New(uint(cfg.WorkerID))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := ws.NewHub(ws.NewMetrics(reg), logger)

	var (
		relay ws.Relay = hub
		rdb   *redis.Client
	)
	if cfg.RedisURL != "" {
		rdb, err = redis.NewClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
		hub.UseRelay(rdb)
		relay = rdb
		checks = append(checks, api.DependencyCheck{Name: "redis", Check: rdb.Ping})
	}
	pub := ws.NewPublisher(relay)

	attachments, err := openMedia(ctx, cfg.Media, logger)
	if err != nil {
		return err
	}

	forumLog := logger.With().Str("component", "forum").Logger()
	locks := forum.NewTopicLocks()
	dir := forum.NewDirectory(store, pub, locks, forumLog).WithAttachmentCleanup(attachments)
	msgs := forum.NewMessageLog(store, pub, locks, ids, forum.LogOptions{
		DefaultPageSize:  cfg.HistoryPageSize,
		MaxPageSize:      cfg.HistoryMaxPageSize,
		MaxContentLength: cfg.MaxMessageLength,
	}, forumLog)

	validator, kinde, err := openValidator(ctx, cfg, logger)
	if err != nil {
		return err
	}

	handler := api.NewHandler(dir, msgs, attachments, hub, api.Options{
		MaxUploadBytes: cfg.Media.MaxUploadBytes,
		HealthChecks:   checks,
	}, logger)
	routes := api.NewRoutes(handler, api.RouteOptions{
		Auth: auth.Middleware(validator, logger),
		WebSocket: ws.NewHandler(hub, dir, ws.HandlerOptions{
			AllowedOrigins: cfg.AllowedOrigins,
			SendBuffer:     cfg.SendBuffer,
		}, logger),
		Gatherer: reg,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           routes.Wrap(cfg.AllowedOrigins, api.NewHTTPMetrics(reg)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gctx)
	})

	ready := make(chan struct{})
	if rdb != nil {
		g.Go(func() error {
			return redis.SubscribeToEvents(gctx, rdb, hub, ready, logger)
		})
	} else {
		close(ready)
	}

	if kinde != nil {
		g.Go(func() error {
			kinde.RunRefresh(gctx, cfg.JWKSRefresh)
			return nil
		})
	}

	g.Go(func() error {
		// Don't accept subscribers before remote events can reach them.
		select {
		case <-ready:
		case <-gctx.Done():
			return nil
		}

		logger.Info().Str("addr", srv.Addr).Msg("forum server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, migrate bool, logger zerolog.Logger) (forum.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, using the in-memory store")
		return memory.New(), func() {}, nil
	}

	pg, err := postgres.Open(ctx, cfg.DatabaseURL, logger.With().Str("component", "store").Logger())
	if err != nil {
		return nil, nil, err
	}
	if migrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
	}
	return pg, pg.Close, nil
}

func openMedia(ctx context.Context, conf config.MediaConfig, logger zerolog.Logger) (media.Handler, error) {
	switch conf.Backend {
	case "s3":
		return s3.New(ctx, s3.Config{
			Bucket:          conf.S3Bucket,
			Region:          conf.S3Region,
			Endpoint:        conf.S3Endpoint,
			AccessKeyID:     conf.S3AccessKeyID,
			SecretAccessKey: conf.S3SecretAccessKey,
		}, logger)
	default:
		return fs.New(conf.UploadDir, logger)
	}
}

// openValidator prefers Kinde when an issuer is configured. The returned
// KindeValidator is nil otherwise.
func openValidator(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (auth.Validator, *auth.KindeValidator, error) {
	if cfg.KindeIssuerURL != "" {
		v, err := auth.NewKindeValidator(ctx, cfg.KindeIssuerURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize JWKS: %w", err)
		}
		return v, v, nil
	}

	logger.Warn().Msg("KINDE_ISSUER_URL not set, accepting tokens signed with AUTH_SECRET")
	v, err := auth.NewSecretValidator(cfg.AuthSecret)
	if err != nil {
		return nil, nil, err
	}
	return v, nil, nil
}
