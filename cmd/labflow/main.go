// Command labflow serves, runs and moves workflow scenarios.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/labflow/pkg/cmd"
	"github.com/dukex/labflow/pkg/log"
	"github.com/dukex/labflow/pkg/queue"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort          = 9091
	defaultMaxConcurrent = 2
)

func main() {
	app := &cli.Command{
		Name:                  "labflow",
		Usage:                 "Build and run workflow scenarios",
		EnableShellCompletion: true,
		Flags:                 globalFlags(),
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"), command.String("log-format"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			serveCommand(),
			runCommand(),
			submitCommand(),
			exportCommand(),
			importCommand(),
			tasksCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database URL (file://<dir> or postgres://...)",
			Value:   "file://./data",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "blob-store-url",
			Usage:   "Base URL of the resource content store (file://<dir>, mem://...)",
			Value:   "file://./data/blobs",
			Sources: cli.EnvVars("BLOB_STORE_URL"),
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Directory holding task plugins under tasks/",
			Value:   "./plugins",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
		&cli.IntFlag{
			Name:    "max-concurrent",
			Usage:   "Maximum number of scenarios running at once",
			Value:   defaultMaxConcurrent,
			Sources: cli.EnvVars("QUEUE_MAX_CONCURRENT"),
		},
		&cli.IntFlag{
			Name:    "max-queue",
			Usage:   "Maximum number of waiting jobs, 0 for no limit",
			Sources: cli.EnvVars("QUEUE_MAX_LENGTH"),
		},
		&cli.DurationFlag{
			Name:    "tick-interval",
			Usage:   "Interval between queue ticks",
			Value:   queue.DefaultTickInterval,
			Sources: cli.EnvVars("QUEUE_TICK_INTERVAL"),
		},
		&cli.StringFlag{
			Name:    "lock-provider",
			Usage:   "Queue lock shared by coordinators (local, redis, postgres)",
			Value:   "local",
			Sources: cli.EnvVars("LOCK_PROVIDER"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the redis lock",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

func configFrom(command *cli.Command) cmd.Config {
	return cmd.Config{
		DatabaseURL:   command.String("database-url"),
		BlobStoreURL:  command.String("blob-store-url"),
		PluginsPath:   command.String("plugins-path"),
		MaxConcurrent: command.Int("max-concurrent"),
		MaxQueue:      command.Int("max-queue"),
		TickInterval:  command.Duration("tick-interval"),
		LockProvider:  command.String("lock-provider"),
		RedisURL:      command.String("redis-url"),
		EventBus:      command.String("event-bus"),
		KafkaBrokers:  command.String("kafka-brokers"),
		Tracing:       command.Bool("tracing"),
	}
}

// withEngine opens the engine for the duration of fn.
func withEngine(ctx context.Context, command *cli.Command, module string, fn func(*cmd.Engine) error) error {
	logger := log.WithModule(module)

	engine, err := cmd.NewEngine(ctx, logger, configFrom(command))
	if err != nil {
		return err
	}

	defer func() {
		if err := engine.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close engine", "error", err)
		}
	}()

	return fn(engine)
}
