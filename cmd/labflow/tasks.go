package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dukex/labflow/pkg/cmd"
	"github.com/dukex/labflow/pkg/log"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/services"
	cli "github.com/urfave/cli/v3"
)

func tasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "List the registered task types",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the catalog with config schemas as JSON",
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			reg, err := cmd.NewRegistry(log.WithModule("labflow-tasks"), command.String("plugins-path"))
			if err != nil {
				return err
			}

			catalog := services.Catalog(reg)

			if command.Bool("json") {
				return printJSON(catalog)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tINPUTS\tOUTPUTS\tDESCRIPTION")

			for _, task := range catalog {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", task.ID, portNames(task.Inputs), portNames(task.Outputs), task.Description)
			}

			return w.Flush()
		},
	}
}

func portNames(specs []models.PortSpec) string {
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}

	if len(names) == 0 {
		return "-"
	}

	return strings.Join(names, ",")
}
