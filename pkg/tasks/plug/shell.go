package plug

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/dukex/labflow/pkg/config"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/protocol"
	"github.com/dukex/labflow/pkg/resources"
)

const (
	ShellID = "plug.shell"

	PortStdout = "stdout"
)

// ShellFactory creates tasks that delegate to an external command. They run on
// their own worker so a slow command never blocks the scheduler.
type ShellFactory struct{}

func NewShellFactory() protocol.TaskFactory {
	return &ShellFactory{}
}

func (f *ShellFactory) ID() string {
	return ShellID
}

func (f *ShellFactory) Name() string {
	return "Shell"
}

func (f *ShellFactory) Description() string {
	return "Runs a shell command, feeding the optional text input on stdin and returning stdout"
}

func (f *ShellFactory) InputSpecs() []models.PortSpec {
	return []models.PortSpec{{Name: PortResource, ResourceTypes: []string{resources.TextType}, Optional: true}}
}

func (f *ShellFactory) OutputSpecs() []models.PortSpec {
	return []models.PortSpec{{Name: PortStdout, ResourceTypes: []string{resources.TextType}}}
}

func (f *ShellFactory) ConfigSpecs() config.Specs {
	return config.Specs{
		"command": config.StringParam{
			ParamMeta: config.ParamMeta{HumanName: "Command", ShortDescription: "Command line run with sh -c"},
			MinLength: 1,
		},
		"timeout": config.FloatParam{
			ParamMeta: config.ParamMeta{HumanName: "Timeout", ShortDescription: "Seconds before the command is killed", Default: 60.0},
			Min:       config.Ptr(0.0),
		},
	}
}

func (f *ShellFactory) Async() bool {
	return true
}

func (f *ShellFactory) Create(_ context.Context, deps protocol.Dependencies) (protocol.Task, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &shellTask{logger: logger.With("module", "shell_task"), progress: deps.Reporter()}, nil
}

type shellTask struct {
	logger   *slog.Logger
	progress protocol.ProgressReporter
}

func (t *shellTask) Run(ctx context.Context, params config.Params, inputs protocol.Inputs) (protocol.Outputs, error) {
	command := params.String("command")

	if timeout := params.Float("timeout"); timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout*float64(time.Second)))
		defer cancel()
	}

	// #nosec G204 -- running configured commands is the purpose of this task
	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	if in, ok := inputs[PortResource].(*resources.Text); ok {
		cmd.Stdin = strings.NewReader(in.Value)
	}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.logger.InfoContext(ctx, "Running shell command", "command", command)

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	// stderr of a successful command is kept as a warning for the user
	if text := strings.TrimSpace(stderr.String()); text != "" {
		if err := t.progress.Message(ctx, models.MessageLevelWarning, text); err != nil {
			return nil, err
		}
	}

	return protocol.Outputs{PortStdout: resources.NewText(stdout.String())}, nil
}
