package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/labflow/pkg/cmd"
	"github.com/dukex/labflow/pkg/export"
	"github.com/dukex/labflow/pkg/graph"
	cli "github.com/urfave/cli/v3"
)

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Queue an existing scenario for a running coordinator",
		ArgsUsage: "<scenario-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "user",
				Usage:   "User submitting the scenario",
				Value:   "cli",
				Sources: cli.EnvVars("LABFLOW_USER"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			id := command.Args().First()
			if id == "" {
				return fmt.Errorf("%w: a scenario id is required", cmd.ErrInvalidOption)
			}

			return withEngine(ctx, command, "labflow-submit", func(engine *cmd.Engine) error {
				job, err := engine.Scenarios.Submit(ctx, id, command.String("user"))
				if err != nil {
					return err
				}

				return printJSON(job)
			})
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write a scenario and its resources to a zip archive",
		ArgsUsage: "<scenario-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "resources",
				Usage:   "Resources to include (all, inputs, outputs, inputs_and_outputs, none)",
				Value:   string(graph.ResourceModeAll),
			},
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"o"},
				Usage:    "Archive path",
				Required: true,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			id := command.Args().First()
			if id == "" {
				return fmt.Errorf("%w: a scenario id is required", cmd.ErrInvalidOption)
			}

			mode, err := graph.ParseResourceMode(command.String("resources"))
			if err != nil {
				return err
			}

			return withEngine(ctx, command, "labflow-export", func(engine *cmd.Engine) error {
				f, err := os.OpenFile(command.String("output"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return fmt.Errorf("failed to create archive: %w", err)
				}

				manifest, err := engine.Exporter.Export(ctx, id, mode, f)
				if closeErr := f.Close(); err == nil {
					err = closeErr
				}

				if err != nil {
					return err
				}

				_, _ = fmt.Fprintf(os.Stdout, "Exported %s with %d resources\n", id, len(manifest.Resources))

				return nil
			})
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Create a scenario from a zip archive",
		ArgsUsage: "<archive.zip>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "mode",
				Usage: "keep_id keeps the archived ids, new_id assigns fresh ones",
				Value: string(export.CreateModeNewID),
			},
			&cli.StringFlag{
				Name:  "folder",
				Usage: "Folder used when the archived folder is unknown",
			},
			&cli.StringSliceFlag{
				Name:  "known-folder",
				Usage: "Folder ids that exist here; others are replaced by --folder",
			},
			&cli.StringFlag{
				Name:    "user",
				Usage:   "User used when the archived users are unknown",
				Value:   "cli",
				Sources: cli.EnvVars("LABFLOW_USER"),
			},
			&cli.StringSliceFlag{
				Name:  "known-user",
				Usage: "User ids that exist here; others are replaced by --user",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return fmt.Errorf("%w: an archive is required", cmd.ErrInvalidOption)
			}

			mode, err := export.ParseCreateMode(command.String("mode"))
			if err != nil {
				return err
			}

			opts := export.ImportOptions{
				Mode:            mode,
				DefaultFolderID: command.String("folder"),
				DefaultUserID:   command.String("user"),
			}

			if command.IsSet("known-folder") || command.IsSet("known-user") {
				opts.Directory = export.StaticDirectory{
					Folders: command.StringSlice("known-folder"),
					Users:   command.StringSlice("known-user"),
				}
			}

			return withEngine(ctx, command, "labflow-import", func(engine *cmd.Engine) error {
				scenario, err := engine.Importer.ImportFile(ctx, path, opts)
				if err != nil {
					return err
				}

				_, _ = fmt.Fprintf(os.Stdout, "Imported %s as %s\n", scenario.Title, scenario.ID)

				return nil
			})
		},
	}
}
