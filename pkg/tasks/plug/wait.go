package plug

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/labflow/pkg/config"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/protocol"
)

const WaitID = "plug.wait"

// WaitFactory creates tasks that hold a resource for a while before passing it on.
type WaitFactory struct{}

func NewWaitFactory() protocol.TaskFactory {
	return &WaitFactory{}
}

func (f *WaitFactory) ID() string {
	return WaitID
}

func (f *WaitFactory) Name() string {
	return "Wait"
}

func (f *WaitFactory) Description() string {
	return "Waits the configured number of seconds then forwards its input"
}

func (f *WaitFactory) InputSpecs() []models.PortSpec {
	return []models.PortSpec{{Name: PortResource, ResourceTypes: []string{models.AnyResourceType}}}
}

func (f *WaitFactory) OutputSpecs() []models.PortSpec {
	return []models.PortSpec{{Name: PortResource, ResourceTypes: []string{models.AnyResourceType}}}
}

func (f *WaitFactory) ConfigSpecs() config.Specs {
	return config.Specs{
		"waiting_time": config.FloatParam{
			ParamMeta: config.ParamMeta{HumanName: "Waiting time", ShortDescription: "Seconds to wait", Default: 3.0},
			Min:       config.Ptr(0.0),
		},
	}
}

func (f *WaitFactory) AutoRun() bool {
	return true
}

func (f *WaitFactory) Create(_ context.Context, deps protocol.Dependencies) (protocol.Task, error) {
	return &waitTask{progress: deps.Reporter()}, nil
}

type waitTask struct {
	progress protocol.ProgressReporter
}

func (t *waitTask) Run(ctx context.Context, params config.Params, inputs protocol.Inputs) (protocol.Outputs, error) {
	var cfg struct {
		WaitingTime float64 `mapstructure:"waiting_time"`
	}

	if err := params.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := t.progress.SetProgress(ctx, models.ProgressMin, fmt.Sprintf("Waiting %gs", cfg.WaitingTime)); err != nil {
		return nil, err
	}

	timer := time.NewTimer(time.Duration(cfg.WaitingTime * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("wait interrupted: %w", ctx.Err())
	case <-timer.C:
	}

	if err := t.progress.Message(ctx, models.MessageLevelSuccess, "Wait finished"); err != nil {
		return nil, err
	}

	return protocol.Outputs{PortResource: inputs[PortResource]}, nil
}
