package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dukex/labflow/pkg/cmd"
	"github.com/dukex/labflow/pkg/definition"
	"github.com/dukex/labflow/pkg/models"
	cli "github.com/urfave/cli/v3"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Create a scenario from a definition file and run it to the end",
		ArgsUsage: "<definition.yaml|definition.json>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "user",
				Usage:   "User creating the scenario",
				Value:   "cli",
				Sources: cli.EnvVars("LABFLOW_USER"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return fmt.Errorf("%w: a definition file is required", cmd.ErrInvalidOption)
			}

			def, err := definition.Load(path)
			if err != nil {
				return err
			}

			return withEngine(ctx, command, "labflow-run", func(engine *cmd.Engine) error {
				user := command.String("user")

				scenario, err := engine.Scenarios.CreateFromDefinition(ctx, def, user)
				if err != nil {
					return err
				}

				if _, err := engine.Scenarios.Submit(ctx, scenario.ID, user); err != nil {
					return err
				}

				scenario, err = waitIdle(ctx, engine, scenario.ID, command.Duration("tick-interval"))
				if err != nil {
					return err
				}

				return printJSON(scenario)
			})
		},
	}
}

// waitIdle ticks the queue until the scenario is neither queued nor running.
func waitIdle(ctx context.Context, engine *cmd.Engine, scenarioID string, interval time.Duration) (*models.Scenario, error) {
	for {
		if _, err := engine.Service.Tick(ctx); err != nil {
			return nil, err
		}

		engine.Service.Wait()

		scenario, err := engine.Scenarios.Get(ctx, scenarioID)
		if err != nil {
			return nil, err
		}

		if scenario.Status != models.ScenarioStatusInQueue && scenario.Status != models.ScenarioStatusRunning {
			return scenario, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
