package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/labflow/pkg/cmd"
	"github.com/dukex/labflow/pkg/web"
	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the queue coordinator and the HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withEngine(ctx, command, "labflow-serve", func(engine *cmd.Engine) error {
				logger := engine.Logger

				if err := engine.Start(ctx); err != nil {
					return err
				}

				handlers := web.NewAPIHandlers(
					engine.Scenarios,
					engine.Queue,
					engine.Triggers,
					engine.Exporter,
					engine.Importer,
					engine.Registry,
					validator.New(validator.WithRequiredStructEnabled()),
				)
				server := web.NewServer(logger, handlers, engine.Metrics)

				errCh := make(chan error, 1)

				go func() {
					errCh <- server.Start(command.Int("port"))
				}()

				logger.InfoContext(ctx, "Labflow started", "port", command.Int("port"))

				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
				}

				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()

				err := server.Shutdown(shutdownCtx)
				if serviceErr := engine.Service.Err(); serviceErr != nil {
					err = errors.Join(err, serviceErr)
				}

				return err
			})
		},
	}
}
