package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pmgate/pmgate/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "porter",
		Usage:   "private message admission daemon (minds the door)",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "gateway-host",
			Usage:   "method, hostname, and port of the platform gateway sidecar",
			Value:   "http://localhost:2502",
			EnvVars: []string{"PMGATE_GATEWAY_HOST"},
		},
		&cli.StringFlag{
			Name:    "gateway-token",
			Usage:   "bearer token for the platform gateway",
			EnvVars: []string{"PMGATE_GATEWAY_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "admin-token",
			Usage:   "bearer token for the admin API",
			EnvVars: []string{"PMGATE_ADMIN_TOKEN"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		adminCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/porter/pmgate.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.BoolFlag{
			Name:    "enable-db-tracing",
			EnvVars: []string{"PMGATE_ENABLE_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "updates-host",
			Usage:   "hostname and port of the gateway update stream to subscribe to",
			Value:   "ws://localhost:2502",
			EnvVars: []string{"PMGATE_UPDATES_HOST"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for the admin API",
			Value:   ":2510",
			EnvVars: []string{"PMGATE_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":2511",
			EnvVars: []string{"PMGATE_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL, for stream cursor and decision counters",
			EnvVars: []string{"PMGATE_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "webhook to notify on protection mode and destructive rejections",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.IntFlag{
			Name:    "gateway-rate-limit",
			Usage:   "max requests per second to the platform gateway",
			Value:   10,
			EnvVars: []string{"PMGATE_GATEWAY_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "challenge-text",
			Usage:   "message sent to strangers when a challenge begins",
			EnvVars: []string{"PMGATE_CHALLENGE_TEXT"},
		},
		&cli.StringFlag{
			Name:    "success-text",
			Usage:   "message sent when a sender passes the challenge",
			EnvVars: []string{"PMGATE_SUCCESS_TEXT"},
		},
		&cli.DurationFlag{
			Name:    "challenge-timeout",
			Usage:   "how long a challenge waits for a reply before rejecting (0 keeps the stored value)",
			EnvVars: []string{"PMGATE_CHALLENGE_TIMEOUT"},
		},
		&cli.Int64Flag{
			Name:    "destructive-daily-quota",
			Usage:   "max report-and-block rejections per day before downgrading",
			Value:   25,
			EnvVars: []string{"PMGATE_DESTRUCTIVE_DAILY_QUOTA"},
		},
		&cli.BoolFlag{
			Name:    "fail-closed",
			Usage:   "drop messages when collaborator checks fail, instead of proceeding",
			EnvVars: []string{"PMGATE_FAIL_CLOSED"},
		},
		&cli.IntFlag{
			Name:    "consumer-parallelism",
			Usage:   "number of update stream workers",
			Value:   8,
			EnvVars: []string{"PMGATE_CONSUMER_PARALLELISM"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		stopTracing, err := setupTracing(cctx.Context, "porter")
		if err != nil {
			return err
		}
		defer func() {
			if err := stopTracing(context.Background()); err != nil {
				slog.Error("failed to shut down trace exporter", "err", err)
			}
		}()

		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}
		if cctx.Bool("enable-db-tracing") {
			if err := db.Use(tracing.NewPlugin()); err != nil {
				return err
			}
		}

		srv, err := NewServer(
			db,
			Config{
				UpdatesHost:           cctx.String("updates-host"),
				GatewayHost:           cctx.String("gateway-host"),
				GatewayToken:          cctx.String("gateway-token"),
				GatewayRateLimit:      cctx.Int("gateway-rate-limit"),
				AdminToken:            cctx.String("admin-token"),
				RedisURL:              cctx.String("redis-url"),
				SlackWebhookURL:       cctx.String("slack-webhook-url"),
				ChallengeText:         cctx.String("challenge-text"),
				SuccessText:           cctx.String("success-text"),
				ChallengeTimeout:      cctx.Duration("challenge-timeout"),
				DestructiveDailyQuota: cctx.Int64("destructive-daily-quota"),
				FailClosed:            cctx.Bool("fail-closed"),
				Logger:                logger,
			},
		)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		go func() {
			if err := srv.RunAPI(cctx.String("bind")); err != nil {
				slog.Error("failed to start admin API", "error", err)
				panic(fmt.Errorf("failed to start admin API: %w", err))
			}
		}()

		go func() {
			if err := srv.engine.RunSweeper(ctx); err != nil {
				slog.Error("challenge sweeper exited", "err", err)
			}
		}()

		go func() {
			if err := srv.RunPersistCursor(ctx); err != nil {
				slog.Error("cursor persistence exited", "err", err)
			}
		}()

		exitSignals := make(chan os.Signal, 1)
		signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-exitSignals
			logger.Info("received OS exit signal", "signal", sig)
			cancel()
		}()

		if err := srv.RunConsumer(ctx, cctx.Int("consumer-parallelism")); err != nil {
			return fmt.Errorf("failed to run update consumer: %w", err)
		}

		if err := srv.PersistCursor(context.Background()); err != nil {
			logger.Error("failed to persist final cursor", "err", err)
		}
		srv.engine.Shutdown()
		logger.Info("graceful shutdown complete")
		return nil
	},
}
